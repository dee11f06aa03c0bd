package orders

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestClassifyRPCError(t *testing.T) {
	cases := []struct {
		name      string
		err       error
		ambiguous bool
	}{
		{"deadline", status.Error(codes.DeadlineExceeded, "context deadline exceeded"), true},
		{"unavailable", status.Error(codes.Unavailable, "connection refused"), true},
		{"invalid argument", status.Error(codes.InvalidArgument, "quantity must be positive"), false},
		{"internal", status.Error(codes.Internal, "reservation failed"), false},
		{"plain error", errors.New("marshal failed"), false},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got := classifyRPCError(c.err)
			assert.Equal(t, c.ambiguous, errors.Is(got, ErrInventoryAmbiguous))
		})
	}
}
