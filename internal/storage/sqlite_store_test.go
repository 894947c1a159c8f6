package storage

import (
	"context"
	"database/sql"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

var _ Store = (*SqliteStore)(nil)

func newTestStore(t *testing.T) *SqliteStore {
	t.Helper()
	s := NewSqliteStore(filepath.Join(t.TempDir(), "scanner.db"))
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("Failed to close store: %v", err)
		}
	})
	return s
}

func TestSqliteStore_Sessions(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	first := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	if err := s.CreateSession(ctx, "b", first.Add(time.Hour), "127.0.0.1:7356", nil); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.CreateSession(ctx, "a", first, "127.0.0.1:7356", map[string]any{"precision": 4}); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.CreateSession(ctx, "a", first, "127.0.0.1:7356", nil); err == nil {
		t.Errorf("Expected an error for a duplicate session")
	}

	sess, err := s.Session(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to read session: %v", err)
	}
	if !sess.StartTime.Equal(first) || sess.Receiver != "127.0.0.1:7356" {
		t.Errorf("Unexpected session: %+v", sess)
	}
	if sess.Config == nil || *sess.Config != `{"precision":4}` {
		t.Errorf("Unexpected config: %v", sess.Config)
	}

	if _, err = s.Session(ctx, "missing"); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("Expected sql.ErrNoRows, got %v", err)
	}

	sessions, err := s.Sessions(ctx)
	if err != nil {
		t.Fatalf("Failed to list sessions: %v", err)
	}
	if len(sessions) != 2 || sessions[0].ID != "a" || sessions[1].ID != "b" {
		t.Errorf("Expected sessions ordered by start time, got %v", sessions)
	}
	if sessions[1].Config != nil {
		t.Errorf("Expected no config for session b")
	}
}

func TestSqliteStore_Samples(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateSession(ctx, "a", time.Now(), "rig", nil); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.StoreSamples(ctx, "a", nil); err != nil {
		t.Errorf("Expected an empty batch to be a no-op, got %v", err)
	}

	samples := make([]Sample, 0, 250)
	for i := range 250 {
		samples = append(samples, Sample{Timestamp: time.Now(), FrequencyHz: int64(100_000_000 + i*1_000), StrengthDBFS: -90})
	}
	if err := s.StoreSamples(ctx, "a", samples); err != nil {
		t.Fatalf("Failed to store samples: %v", err)
	}

	db, err := s.getReadDB()
	if err != nil {
		t.Fatalf("Failed to open read connection: %v", err)
	}
	var n int
	if err = db.QueryRow("SELECT COUNT(*) FROM samples WHERE session_id = ?", "a").Scan(&n); err != nil {
		t.Fatalf("Failed to count samples: %v", err)
	}
	if n != 250 {
		t.Errorf("Expected 250 samples, got %d", n)
	}
}

func TestSqliteStore_Signals(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if err := s.CreateSession(ctx, "a", time.Now(), "rig", nil); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}

	rf := 12.5
	analysis := "Airband ATIS"
	high := spectrum.Signal{
		FrequencyHz:  127_500_000,
		Mode:         spectrum.ModeAM,
		BandwidthHz:  10_000,
		StrengthDBFS: -42.5,
		Gains:        spectrum.Gains{RF: &rf},
		AIAnalysis:   &analysis,
		DecoderInfo:  &spectrum.DecoderInfo{Decoder: "dtmf", RecordingPath: "/tmp/x.wav", Messages: []string{"DTMF: 1"}},
	}
	low := spectrum.Signal{FrequencyHz: 118_100_000, Mode: spectrum.ModeAM, BandwidthHz: 10_000, StrengthDBFS: -60}

	for _, signal := range []spectrum.Signal{high, low} {
		if err := s.StoreSignal(ctx, "a", signal); err != nil {
			t.Fatalf("Failed to store signal: %v", err)
		}
	}

	got, err := s.Signals(ctx, "a")
	if err != nil {
		t.Fatalf("Failed to read signals: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("Expected 2 signals, got %d", len(got))
	}
	if got[0].FrequencyHz != low.FrequencyHz || got[1].FrequencyHz != high.FrequencyHz {
		t.Errorf("Expected signals ordered by frequency, got %d, %d", got[0].FrequencyHz, got[1].FrequencyHz)
	}
	if got[0].AIAnalysis != nil || got[0].DecoderInfo != nil || got[0].Gains.RF != nil {
		t.Errorf("Expected optional fields to stay empty: %+v", got[0])
	}

	h := got[1]
	if h.Mode != spectrum.ModeAM || h.StrengthDBFS != -42.5 || h.Gains.RF == nil || *h.Gains.RF != rf {
		t.Errorf("Unexpected signal: %+v", h)
	}
	if h.AIAnalysis == nil || *h.AIAnalysis != analysis {
		t.Errorf("Unexpected analysis: %v", h.AIAnalysis)
	}
	if h.DecoderInfo == nil || h.DecoderInfo.Decoder != "dtmf" || len(h.DecoderInfo.Messages) != 1 {
		t.Errorf("Unexpected decoder info: %+v", h.DecoderInfo)
	}

	other, err := s.Signals(ctx, "b")
	if err != nil {
		t.Fatalf("Failed to read signals: %v", err)
	}
	if len(other) != 0 {
		t.Errorf("Expected no signals for another session, got %d", len(other))
	}
}

func TestSqliteStore_CloseTwice(t *testing.T) {
	s := NewSqliteStore(filepath.Join(t.TempDir(), "scanner.db"))
	if err := s.CreateSession(context.Background(), "a", time.Now(), "rig", "{}"); err != nil {
		t.Fatalf("Failed to create session: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Failed to close store: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Errorf("Expected second close to succeed, got %v", err)
	}
}
