package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/roman-kulish/radio-scanner/internal/receiver"
	"github.com/roman-kulish/radio-scanner/internal/replay"
	"github.com/roman-kulish/radio-scanner/internal/signallog"
	"github.com/roman-kulish/radio-scanner/internal/spectrum"
	"github.com/roman-kulish/radio-scanner/internal/storage"
)

// Source selects where the signals to replay come from: a scan log, or a
// session of the SQLite mirror.
type Source struct {
	LogPath   string
	DBPath    string
	SessionID string // latest session when empty
}

func (s *Source) Validate() error {
	if (s.LogPath == "") == (s.DBPath == "") {
		return errors.New("app.Source: exactly one of a scan log or a database is required")
	}
	if s.SessionID != "" && s.DBPath == "" {
		return errors.New("app.Source: a session requires a database")
	}
	return nil
}

// LoadSignals reads the signals of src.
func LoadSignals(ctx context.Context, src Source) ([]spectrum.Signal, error) {
	if err := src.Validate(); err != nil {
		return nil, err
	}

	if src.LogPath != "" {
		log, err := signallog.Load(src.LogPath)
		if err != nil {
			return nil, err
		}
		return log.Signals, nil
	}

	store := storage.NewSqliteStore(src.DBPath)
	defer store.Close()

	id := src.SessionID
	if id == "" {
		sessions, err := store.Sessions(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing sessions: %w", err)
		}
		if len(sessions) == 0 {
			return nil, fmt.Errorf("no sessions in %s", src.DBPath)
		}
		id = sessions[len(sessions)-1].ID
	} else if _, err := store.Session(ctx, id); err != nil {
		return nil, fmt.Errorf("reading session %s: %w", id, err)
	}

	signals, err := store.Signals(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("reading signals of session %s: %w", id, err)
	}
	return signals, nil
}

// Run replays signals on the receiver at address.
func Run(ctx context.Context, address string, signals []spectrum.Signal, pauser replay.Pauser, logger *slog.Logger) error {
	if len(signals) == 0 {
		logger.Info("nothing to replay")
		return nil
	}

	client, err := receiver.Dial(ctx, address, receiver.WithClientLogger(logger))
	if err != nil {
		return fmt.Errorf("failed to connect: %w", err)
	}

	ctrl := receiver.NewController(client, receiver.WithLogger(logger))
	visited, err := replay.New(ctrl, pauser, replay.WithLogger(logger)).Run(ctx, signals)

	logger.Info("replay finished", slog.Int("visited", visited), slog.Int("signals", len(signals)))
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
