// Package journal records spoken narrations so that operators can see what the
// system said and when.
//
// Three backends exist: an in-memory ring ([Memory], the default), a Redis
// list (package journal/redis) and a PostgreSQL table (package
// journal/postgres). All are safe for concurrent use.
package journal

import (
	"context"
	"errors"
	"time"
)

// DefaultCapacity is the number of entries kept when no capacity is set.
const DefaultCapacity = 100

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal: closed")

// Entry is one emitted narration.
type Entry struct {
	// ID uniquely identifies the entry.
	ID string `json:"id"`

	// RunID identifies the worker run that produced the entry.
	RunID string `json:"run_id"`

	// Text is the narration sentence.
	Text string `json:"text"`

	// ProducedAt is when the narration was composed.
	ProducedAt time.Time `json:"produced_at"`

	// Spoken reports whether speech synthesis and playback succeeded.
	Spoken bool `json:"spoken"`

	// SpeechError holds the speech failure, if any.
	SpeechError string `json:"speech_error,omitempty"`
}

// Journal stores narration entries.
type Journal interface {
	// Record appends e.
	Record(ctx context.Context, e Entry) error

	// Recent returns up to n entries, newest first.
	Recent(ctx context.Context, n int) ([]Entry, error)

	// Ping reports whether the backend is reachable.
	Ping(ctx context.Context) error

	// Close releases the backend.
	Close() error
}
