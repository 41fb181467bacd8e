package stable_diffusion_api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorKind
	}{
		{name: "nil", err: nil, want: KindUnknown},
		{name: "api error", err: &APIError{Kind: KindInvalidParameter}, want: KindInvalidParameter},
		{name: "wrapped api error", err: fmt.Errorf("wrap: %w", ErrUnsupportedOperation), want: KindUnsupportedOperation},
		{name: "deadline", err: context.DeadlineExceeded, want: KindBadResponse},
		{
			name: "connection refused",
			err:  &net.OpError{Op: "dial", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)},
			want: KindBackendUnreachable,
		},
		{name: "dns", err: &net.DNSError{Err: "no such host", Name: "nowhere"}, want: KindBackendUnreachable},
		{
			name: "connection reset",
			err:  &net.OpError{Op: "read", Err: os.NewSyscallError("read", syscall.ECONNRESET)},
			want: KindTransientNetwork,
		},
		{name: "eof", err: fmt.Errorf("read body: %w", io.ErrUnexpectedEOF), want: KindTransientNetwork},
		{name: "other", err: errors.New("boom"), want: KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KindOf(tt.err); got != tt.want {
				t.Errorf("KindOf() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAPIErrorIs(t *testing.T) {
	err := &APIError{Kind: KindTransientNetwork, Message: "reset"}

	if !errors.Is(err, ErrTransientNetwork) {
		t.Error("expected transient sentinel to match")
	}

	if errors.Is(err, ErrBadResponse) {
		t.Error("unexpected match with bad response sentinel")
	}
}
