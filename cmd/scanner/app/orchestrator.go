package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/scanner"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
	"github.com/roman-kulish/radio-scanner/internal/storage"
)

// Publisher publishes locked signals
type Publisher interface {
	Publish(sessionID string, signal spectrum.Signal) error
}

// WithMaxBatchSize sets the maximum batch size of collected samples to store
// within a single database transaction.
func WithMaxBatchSize(size int) func(*Orchestrator) {
	return func(o *Orchestrator) {
		if size > 0 {
			o.maxBatchSize = size
		}
	}
}

// WithStore mirrors the session, its samples and signals into store
func WithStore(store storage.Store) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.store = store
	}
}

// WithPublisher publishes every locked signal
func WithPublisher(p Publisher) func(*Orchestrator) {
	return func(o *Orchestrator) {
		o.publisher = p
	}
}

// Orchestrator receives the results of a scan and forwards them to the
// database and the broker. Samples are buffered and stored in batches.
type Orchestrator struct {
	sessionID string

	logger    *slog.Logger
	store     storage.Store
	publisher Publisher

	maxBatchSize int

	mu      sync.Mutex
	samples []storage.Sample
}

var _ scanner.Sink = (*Orchestrator)(nil)

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(sessionID string, logger *slog.Logger, options ...func(*Orchestrator)) *Orchestrator {
	o := Orchestrator{
		sessionID:    sessionID,
		logger:       logger,
		maxBatchSize: maxBatchSize,
	}

	for _, option := range options {
		option(&o)
	}

	return &o
}

// Begin creates the storage session. config is stored alongside it.
func (o *Orchestrator) Begin(ctx context.Context, start time.Time, receiverAddress string, config any) error {
	if o.store == nil {
		return nil
	}
	if err := o.store.CreateSession(ctx, o.sessionID, start, receiverAddress, config); err != nil {
		return fmt.Errorf("creating session %s: %w", o.sessionID, err)
	}
	return nil
}

// Sample buffers r and stores the buffer once it reaches the batch size.
func (o *Orchestrator) Sample(ctx context.Context, r scanner.Reading) error {
	if o.store == nil {
		return nil
	}

	o.mu.Lock()
	o.samples = append(o.samples, storage.Sample{
		Timestamp:    r.Timestamp,
		FrequencyHz:  r.FrequencyHz,
		StrengthDBFS: r.StrengthDBFS,
	})
	full := len(o.samples) >= o.maxBatchSize
	o.mu.Unlock()

	if !full {
		return nil
	}
	return o.Flush(ctx)
}

// Signal stores and publishes s. A storage failure does not prevent
// publishing.
func (o *Orchestrator) Signal(ctx context.Context, s spectrum.Signal) error {
	var errs []error

	if o.store != nil {
		// keep samples ahead of the signal they led to
		if err := o.Flush(ctx); err != nil {
			errs = append(errs, err)
		}
		if err := o.store.StoreSignal(ctx, o.sessionID, s); err != nil {
			errs = append(errs, fmt.Errorf("storing signal: %w", err))
		}
	}

	if o.publisher != nil {
		if err := o.publisher.Publish(o.sessionID, s); err != nil {
			errs = append(errs, err)
		}
	}

	return errors.Join(errs...)
}

// Flush stores the buffered samples in chunks of the maximum batch size.
func (o *Orchestrator) Flush(ctx context.Context) error {
	if o.store == nil {
		return nil
	}

	o.mu.Lock()
	data := o.samples
	o.samples = nil
	o.mu.Unlock()

	for batch := range slices.Chunk(data, o.maxBatchSize) {
		if err := o.store.StoreSamples(ctx, o.sessionID, batch); err != nil {
			return fmt.Errorf("storing %d samples: %w", len(batch), err)
		}
	}

	if len(data) > 0 {
		o.logger.Debug("samples stored", slog.Int("count", len(data)))
	}
	return nil
}
