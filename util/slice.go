package util

import "golang.org/x/exp/slices"

func ContainsAll[T comparable](src []T, dst []T) bool {
	for _, v := range dst {
		if !slices.Contains(src, v) {
			return false
		}
	}
	return true
}

// Dedup keeps the first occurrence of every element, preserving order.
func Dedup[T comparable](in []T) []T {
	out := make([]T, 0, len(in))
	for _, v := range in {
		if !slices.Contains(out, v) {
			out = append(out, v)
		}
	}
	return out
}
