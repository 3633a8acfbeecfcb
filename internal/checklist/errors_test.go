package checklist

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/hyperengineering/inspecta/internal/remote"
	"github.com/hyperengineering/inspecta/internal/syncengine"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want error
	}{
		{"rejected", &remote.RejectedError{Op: "save", Status: 422, Message: "mandatory items missing"}, ErrRejected},
		{"unauthorized", remote.ErrUnauthorized, ErrRejected},
		{"not found", remote.ErrNotFound, ErrRejected},
		{"transport", &remote.TransportError{Op: "get", Err: errors.New("dial tcp: refused")}, ErrTransient},
		{"not ready", syncengine.ErrNotReady, ErrTransient},
		{"deadline", context.DeadlineExceeded, ErrTransient},
		{"integrity", syncengine.ErrIntegrity, ErrIntegrity},
		{"other", errors.New("disk I/O error"), ErrIntegrity},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := classify("op", tt.err)
			if !errors.Is(err, tt.want) {
				t.Errorf("classify(%v) = %v, want kind %v", tt.err, err, tt.want)
			}
			if !errors.Is(err, tt.err) {
				t.Error("classified error must wrap the cause")
			}
			if Kind(err) != tt.want.Error() {
				t.Errorf("Kind = %q, want %q", Kind(err), tt.want.Error())
			}
		})
	}
}

func TestClassify_RejectionMessageVerbatim(t *testing.T) {
	err := classify("finalize", &remote.RejectedError{Op: "finalize instance", Status: 409, Message: "instance already completed"})

	if !strings.HasSuffix(err.Error(), "instance already completed") {
		t.Errorf("message not preserved: %q", err.Error())
	}
}

func TestKind_NilAndUnknown(t *testing.T) {
	if Kind(nil) != "" {
		t.Error("nil error has no kind")
	}
	if Kind(errors.New("plain")) != "" {
		t.Error("untagged error has no kind")
	}
}
