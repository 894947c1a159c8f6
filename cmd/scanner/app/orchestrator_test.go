package app

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"slices"
	"testing"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/scanner"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
	"github.com/roman-kulish/radio-scanner/internal/storage"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

// batchStore records the size of every stored batch. Methods not used by the
// orchestrator are left to the embedded interface.
type batchStore struct {
	storage.Store

	batches   []int
	signals   []int64
	sampleErr error
	signalErr error
}

func (s *batchStore) StoreSamples(ctx context.Context, sessionID string, samples []storage.Sample) error {
	s.batches = append(s.batches, len(samples))
	return s.sampleErr
}

func (s *batchStore) StoreSignal(ctx context.Context, sessionID string, signal spectrum.Signal) error {
	s.signals = append(s.signals, signal.FrequencyHz)
	return s.signalErr
}

type publisher struct {
	sessions []string
	err      error
}

func (p *publisher) Publish(sessionID string, signal spectrum.Signal) error {
	p.sessions = append(p.sessions, sessionID)
	return p.err
}

func reading(i int) scanner.Reading {
	return scanner.Reading{FrequencyHz: int64(100_000_000 + i*1_000), StrengthDBFS: -90, Timestamp: time.Now()}
}

func TestOrchestrator_Batches(t *testing.T) {
	ctx := context.Background()
	store := &batchStore{}
	o := NewOrchestrator("s1", discard, WithStore(store), WithMaxBatchSize(10))

	for i := range 25 {
		if err := o.Sample(ctx, reading(i)); err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
	}
	if !slices.Equal(store.batches, []int{10, 10}) {
		t.Errorf("Expected two full batches, got %v", store.batches)
	}

	if err := o.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if !slices.Equal(store.batches, []int{10, 10, 5}) {
		t.Errorf("Expected the remainder to be flushed, got %v", store.batches)
	}

	if err := o.Flush(ctx); err != nil {
		t.Fatalf("Flush failed: %v", err)
	}
	if len(store.batches) != 3 {
		t.Errorf("Expected an empty flush to store nothing, got %v", store.batches)
	}
}

func TestOrchestrator_SignalFlushesSamples(t *testing.T) {
	ctx := context.Background()
	store := &batchStore{}
	pub := &publisher{}
	o := NewOrchestrator("s1", discard, WithStore(store), WithPublisher(pub))

	for i := range 3 {
		_ = o.Sample(ctx, reading(i))
	}
	if err := o.Signal(ctx, spectrum.Signal{FrequencyHz: 100_001_000}); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}

	if !slices.Equal(store.batches, []int{3}) {
		t.Errorf("Expected pending samples to be stored first, got %v", store.batches)
	}
	if !slices.Equal(store.signals, []int64{100_001_000}) {
		t.Errorf("Unexpected stored signals: %v", store.signals)
	}
	if !slices.Equal(pub.sessions, []string{"s1"}) {
		t.Errorf("Expected one publication for s1, got %v", pub.sessions)
	}
}

func TestOrchestrator_SignalErrors(t *testing.T) {
	storeErr := errors.New("disk full")
	brokerErr := errors.New("broker down")
	store := &batchStore{signalErr: storeErr}
	pub := &publisher{err: brokerErr}
	o := NewOrchestrator("s1", discard, WithStore(store), WithPublisher(pub))

	err := o.Signal(context.Background(), spectrum.Signal{FrequencyHz: 1})
	if !errors.Is(err, storeErr) || !errors.Is(err, brokerErr) {
		t.Fatalf("Expected both errors, got %v", err)
	}
	if len(pub.sessions) != 1 {
		t.Errorf("Expected the signal to be published despite the storage failure")
	}
}

func TestOrchestrator_NoSinks(t *testing.T) {
	ctx := context.Background()
	o := NewOrchestrator("s1", discard)

	if err := o.Begin(ctx, time.Now(), "rig", nil); err != nil {
		t.Errorf("Begin failed: %v", err)
	}
	if err := o.Sample(ctx, reading(0)); err != nil {
		t.Errorf("Sample failed: %v", err)
	}
	if err := o.Signal(ctx, spectrum.Signal{}); err != nil {
		t.Errorf("Signal failed: %v", err)
	}
	if err := o.Flush(ctx); err != nil {
		t.Errorf("Flush failed: %v", err)
	}
}

func TestOrchestrator_SqliteStore(t *testing.T) {
	ctx := context.Background()
	store := storage.NewSqliteStore(filepath.Join(t.TempDir(), "scanner.sqlite"))
	defer store.Close()

	config := DefaultConfig()
	o := NewOrchestrator("s1", discard, WithStore(store), WithMaxBatchSize(2))
	if err := o.Begin(ctx, time.Now(), config.Receiver.Address, config); err != nil {
		t.Fatalf("Begin failed: %v", err)
	}

	for i := range 5 {
		if err := o.Sample(ctx, reading(i)); err != nil {
			t.Fatalf("Sample failed: %v", err)
		}
	}
	if err := o.Signal(ctx, spectrum.Signal{FrequencyHz: 100_002_000, Mode: spectrum.ModeWFM, BandwidthHz: 160_000, StrengthDBFS: -60}); err != nil {
		t.Fatalf("Signal failed: %v", err)
	}

	sess, err := store.Session(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}
	if sess.Receiver != defaultAddress || sess.Config == nil {
		t.Errorf("Unexpected session: %+v", sess)
	}

	signals, err := store.Signals(ctx, "s1")
	if err != nil {
		t.Fatalf("Failed to read signals: %v", err)
	}
	if len(signals) != 1 || signals[0].FrequencyHz != 100_002_000 {
		t.Errorf("Unexpected signals: %+v", signals)
	}
}
