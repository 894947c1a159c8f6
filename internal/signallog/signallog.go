package signallog

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// TimestampFormat is the layout of timestamp_start and timestamp_end
const TimestampFormat = time.DateTime

// ScanLog is the persisted result of a scan. It is rewritten as a whole on
// every flush, so a file read mid-scan is always complete as of the last
// detection.
type ScanLog struct {
	SessionID      string            `json:"session_id,omitempty"`
	Signals        []spectrum.Signal `json:"signals"`
	TimestampStart string            `json:"timestamp_start"`
	TimestampEnd   string            `json:"timestamp_end"`
	Duration       string            `json:"duration"`

	started time.Time
}

// New creates an empty log for a scan started at start.
func New(sessionID string, start time.Time) *ScanLog {
	l := ScanLog{
		SessionID: sessionID,
		Signals:   []spectrum.Signal{},
		started:   start,
	}
	l.TimestampStart = start.Format(TimestampFormat)
	l.Touch(start)

	return &l
}

// Record appends signal, keeps the signals ordered by frequency and updates
// the end timestamp and duration.
func (l *ScanLog) Record(signal spectrum.Signal, now time.Time) *ScanLog {
	l.Signals = append(l.Signals, signal)
	slices.SortStableFunc(l.Signals, func(a, b spectrum.Signal) int {
		switch {
		case a.FrequencyHz < b.FrequencyHz:
			return -1
		case a.FrequencyHz > b.FrequencyHz:
			return 1
		}
		return 0
	})
	l.Touch(now)

	return l
}

// Touch updates the end timestamp and duration to now.
func (l *ScanLog) Touch(now time.Time) {
	l.TimestampEnd = now.Format(TimestampFormat)
	l.Duration = FormatDuration(now.Sub(l.started))
}

// Flush rewrites the log at path. The file is replaced atomically.
func (l *ScanLog) Flush(path string) (err error) {
	p, err := json.MarshalIndent(l, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling scan log: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("creating scan log: %w", err)
	}
	defer func() {
		if err != nil {
			_ = os.Remove(tmp.Name())
		}
	}()

	if _, err = tmp.Write(append(p, '\n')); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("writing scan log: %w", err)
	}
	if err = tmp.Close(); err != nil {
		return fmt.Errorf("writing scan log: %w", err)
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("replacing scan log: %w", err)
	}

	return nil
}

// Load reads a log written by Flush.
func Load(path string) (*ScanLog, error) {
	p, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scan log: %w", err)
	}

	var l ScanLog
	if err = json.Unmarshal(p, &l); err != nil {
		return nil, fmt.Errorf("parsing scan log %s: %w", path, err)
	}
	if l.Signals == nil {
		l.Signals = []spectrum.Signal{}
	}
	if l.TimestampStart != "" {
		if l.started, err = time.ParseInLocation(TimestampFormat, l.TimestampStart, time.Local); err != nil {
			return nil, fmt.Errorf("parsing timestamp_start: %w", err)
		}
	}

	return &l, nil
}

// FormatDuration formats d as HH:MM:SS.
func FormatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	s := int64(d / time.Second)
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, s%3600/60, s%60)
}
