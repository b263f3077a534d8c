package voicesession

import (
	"context"
	"log/slog"
	"time"

	"github.com/eleven-am/voice-relay/internal/session"
)

const recordTimeout = time.Second

// Recorder persists session lifecycle. *session.Store satisfies it.
type Recorder interface {
	CreateRecord(ctx context.Context, rec *session.Record) error
	EndRecord(ctx context.Context, id string, status session.Status, cause error) error
	IncrementResets(ctx context.Context) error
	IncrementErrors(ctx context.Context) error
	IncrementConversations(ctx context.Context) error
}

// record runs fn against the recorder with its own deadline. Failures are
// logged and never reach the caller.
func record(r Recorder, log *slog.Logger, op string, fn func(context.Context, Recorder) error) {
	if r == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), recordTimeout)
	defer cancel()
	if err := fn(ctx, r); err != nil {
		log.Warn("session record failed", "op", op, "error", err)
	}
}
