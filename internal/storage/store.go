package storage

import (
	"context"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// Session is a stored scan session.
type Session struct {
	ID        string    `json:"id"`
	StartTime time.Time `json:"start_time"`
	Receiver  string    `json:"receiver"`
	Config    *string   `json:"config,omitempty"`
}

// Sample is the strength measured at one scan step.
type Sample struct {
	Timestamp    time.Time
	FrequencyHz  int64
	StrengthDBFS float64
}

// Store provides an interface for persisting scan sessions, the strength
// sampled at every step and the signals locked during a scan.
type Store interface {
	// CreateSession records a new scan session.
	//
	// Parameters:
	//   - ctx: Context for cancellation and timeouts
	//   - id: Session identifier, shared with the scan log
	//   - start: Time the scan started
	//   - receiver: Address of the receiver being scanned
	//   - config: Optional scan configuration. Can be string, []byte, or JSON-serializable object
	CreateSession(ctx context.Context, id string, start time.Time, receiver string, config any) error

	// Session retrieves a session by its ID. It returns sql.ErrNoRows wrapped
	// when the session does not exist.
	Session(ctx context.Context, id string) (*Session, error)

	// Sessions returns all sessions ordered by start time.
	Sessions(ctx context.Context) ([]*Session, error)

	// StoreSamples saves a batch of step samples in a single transaction.
	StoreSamples(ctx context.Context, sessionID string, samples []Sample) error

	// StoreSignal saves a locked signal.
	StoreSignal(ctx context.Context, sessionID string, signal spectrum.Signal) error

	// Signals returns the signals of a session ordered by frequency.
	Signals(ctx context.Context, sessionID string) ([]spectrum.Signal, error)

	// Close releases all database connections. It is safe to call Close
	// multiple times.
	Close() error
}
