package api_v1

import (
	"errors"
	"fmt"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc/codes"
	status "google.golang.org/grpc/status"
)

func withMessage(code codes.Code, msg string) *status.Status {
	st := status.New(code, msg)
	d := &errdetails.LocalizedMessage{
		Locale:  "en-US",
		Message: msg,
	}
	std, err := st.WithDetails(d)
	if err != nil {
		return st
	}
	return std
}

type NotFoundError struct {
	Kind string
	Id   string
}

func (e NotFoundError) GRPCStatus() *status.Status {
	return withMessage(codes.NotFound, fmt.Sprintf("%s %s not found", e.Kind, e.Id))
}

func (e NotFoundError) Error() string {
	return e.GRPCStatus().Err().Error()
}

// ConflictError means the caller acted on stale state and must reread before retrying.
type ConflictError struct {
	Message string
}

func (e ConflictError) GRPCStatus() *status.Status {
	return withMessage(codes.Aborted, fmt.Sprintf("conflict: %s", e.Message))
}

func (e ConflictError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type PermissionDeniedError struct {
	Actor   string
	Message string
}

func (e PermissionDeniedError) GRPCStatus() *status.Status {
	return withMessage(codes.PermissionDenied, fmt.Sprintf("%s: %s", e.Actor, e.Message))
}

func (e PermissionDeniedError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) GRPCStatus() *status.Status {
	if len(e.Field) == 0 {
		return withMessage(codes.InvalidArgument, e.Message)
	}
	return withMessage(codes.InvalidArgument, fmt.Sprintf("%s: %s", e.Field, e.Message))
}

func (e ValidationError) Error() string {
	return e.GRPCStatus().Err().Error()
}

type StorageLayerError struct {
	Message string
}

func (e StorageLayerError) GRPCStatus() *status.Status {
	return withMessage(codes.Internal, fmt.Sprintf("error in underline storage layer: %s", e.Message))
}

func (e StorageLayerError) Error() string {
	return e.GRPCStatus().Err().Error()
}

func Conflictf(format string, args ...any) error {
	return ConflictError{Message: fmt.Sprintf(format, args...)}
}

func Invalidf(field string, format string, args ...any) error {
	return ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func IsNotFound(err error) bool {
	var e NotFoundError
	return errors.As(err, &e)
}

func IsConflict(err error) bool {
	var e ConflictError
	return errors.As(err, &e)
}

func IsPermissionDenied(err error) bool {
	var e PermissionDeniedError
	return errors.As(err, &e)
}

func IsValidation(err error) bool {
	var e ValidationError
	return errors.As(err, &e)
}

func IsStorageLayer(err error) bool {
	var e StorageLayerError
	return errors.As(err, &e)
}
