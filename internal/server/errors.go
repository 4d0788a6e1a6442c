package server

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"sessionstore/internal/conflict"
)

// toStatus maps a store error to a gRPC status error.
func toStatus(err error) error {
	switch {
	case err == nil:
		return nil
	case conflict.IsConflict(err):
		return status.Error(codes.Aborted, err.Error())
	case conflict.IsInvalidMutation(err):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return status.FromContextError(err).Err()
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

func invalidArgument(format string, args ...any) error {
	return status.Errorf(codes.InvalidArgument, format, args...)
}
