// Package audit records snippet changes: as git commits in the snippet
// directory and, optionally, in a SQLite journal.
package audit

import (
	"context"
	"errors"
	"time"
)

// Change describes one snippet save.
type Change struct {
	Key     string
	Kind    string // "local" or "forward"
	Files   []string
	Message string
	Author  string
	Time    time.Time
}

// Recorder persists a change. Recording a change that touches nothing is a
// no-op.
type Recorder interface {
	Record(ctx context.Context, c Change) error
}

// Multi fans a change out to several recorders. All recorders run; errors
// are joined.
type Multi []Recorder

func (m Multi) Record(ctx context.Context, c Change) error {
	var errs []error
	for _, r := range m {
		if r == nil {
			continue
		}
		if err := r.Record(ctx, c); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards changes.
type Nop struct{}

func (Nop) Record(context.Context, Change) error { return nil }
