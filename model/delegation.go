package model

import (
	"time"

	"golang.org/x/exp/slices"
)

type UserDelegation struct {
	Id        string    `json:"id"`
	Delegator string    `json:"delegator"`
	Delegate  string    `json:"delegate"`
	StartsAt  time.Time `json:"starts_at"`
	EndsAt    time.Time `json:"ends_at"`
	Scope     []string  `json:"scope,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// Covers reports whether the delegation is in force at now, the window being [start, end).
func (d *UserDelegation) Covers(now time.Time) bool {
	return d.Active && !now.Before(d.StartsAt) && now.Before(d.EndsAt)
}

// InScope reports whether the delegation applies to the template, an empty scope covering all.
func (d *UserDelegation) InScope(templateCode string) bool {
	return len(d.Scope) == 0 || slices.Contains(d.Scope, templateCode)
}
