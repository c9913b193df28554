package qdrant

import (
	"errors"

	"github.com/poiesic/kbpipe/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ErrUnreachable indicates the Qdrant server did not answer health checks.
var ErrUnreachable = errors.New("qdrant server unreachable")

// classify marks gRPC failures that a retry can fix as transient.
func classify(err error) error {
	if err == nil {
		return nil
	}
	switch status.Code(err) {
	case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted, codes.Aborted:
		return core.Transient(err)
	case codes.InvalidArgument, codes.NotFound, codes.PermissionDenied, codes.Unauthenticated, codes.FailedPrecondition:
		return core.Permanent(err)
	}
	return err
}
