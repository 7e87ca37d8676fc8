package server

import (
	"context"
	"errors"

	"Clawboard/internal/core"
	cerrors "Clawboard/internal/errors"
	"Clawboard/internal/query"

	"github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrorBody is the JSON error returned by the HTTP gateway.
type ErrorBody struct {
	Code      string            `json:"code"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Retryable bool              `json:"retryable,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// grpcCode maps an engine error to a gRPC status code by kind, with a few
// codes refined where gRPC has a closer match.
func grpcCode(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, query.ErrNoHistory), errors.Is(err, core.ErrClosed):
		return codes.Unavailable
	}

	e, ok := cerrors.From(err)
	if !ok {
		return codes.Internal
	}
	switch e.Code() {
	case cerrors.CodeNotFound:
		return codes.NotFound
	case cerrors.CodeAlreadyRegistered, cerrors.CodeDuplicateBinding:
		return codes.AlreadyExists
	case cerrors.CodeOverflow:
		return codes.OutOfRange
	}
	switch e.Kind() {
	case cerrors.KindAuthorization:
		return codes.PermissionDenied
	case cerrors.KindState, cerrors.KindResource:
		return codes.FailedPrecondition
	case cerrors.KindInput:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

// toStatus converts err into a gRPC status error carrying the engine code.
func toStatus(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}
	return status.Error(grpcCode(err), err.Error())
}

func errorBody(err error) (int, ErrorBody) {
	code := grpcCode(err)
	body := ErrorBody{
		Code:    string(cerrors.CodeOf(err)),
		Kind:    string(cerrors.KindOf(err)),
		Message: err.Error(),
	}
	if e, ok := cerrors.From(err); ok {
		body.Message = e.Message()
		body.Retryable = e.Retryable()
		body.Metadata = e.Metadata()
	}
	return runtime.HTTPStatusFromCode(code), body
}
