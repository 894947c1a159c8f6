package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

func closeWithError(cl interface{ Close() error }, err *error) {
	if cErr := cl.Close(); cErr != nil && *err == nil {
		*err = cErr
	}
}

func rollbackWithError(rb interface{ Rollback() error }, err *error) {
	if cErr := rb.Rollback(); cErr != nil && !errors.Is(cErr, sql.ErrTxDone) && *err == nil {
		*err = cErr
	}
}

func toConfigData(config any) (configData sql.NullString, err error) {
	if config == nil {
		return
	}

	switch c := config.(type) {
	case string:
		configData.String = c

	case []byte:
		configData.String = string(c)

	default:
		var p []byte
		if p, err = json.Marshal(config); err != nil {
			err = fmt.Errorf("marshaling config: %w", err)
			return
		}
		configData.String = string(p)
	}

	configData.Valid = true
	return
}

func toSampleData(sessionID string, s Sample) *sampleData {
	return &sampleData{
		SessionID: sessionID,
		Timestamp: s.Timestamp.UTC(),
		Frequency: s.FrequencyHz,
		Strength:  s.StrengthDBFS,
	}
}

func toSignalData(sessionID string, now time.Time, s spectrum.Signal) (*signalData, error) {
	gains, err := json.Marshal(s.Gains)
	if err != nil {
		return nil, fmt.Errorf("marshaling gains: %w", err)
	}

	data := signalData{
		SessionID: sessionID,
		Timestamp: now.UTC(),
		Frequency: s.FrequencyHz,
		Mode:      s.Mode.String(),
		Bandwidth: s.BandwidthHz,
		Strength:  s.StrengthDBFS,
		Gains:     string(gains),
	}

	if s.AIAnalysis != nil {
		data.AIAnalysis = sql.NullString{String: *s.AIAnalysis, Valid: true}
	}
	if s.DecoderInfo != nil {
		p, err := json.Marshal(s.DecoderInfo)
		if err != nil {
			return nil, fmt.Errorf("marshaling decoder info: %w", err)
		}
		data.DecoderInfo = sql.NullString{String: string(p), Valid: true}
	}

	return &data, nil
}

func fromSignalData(data *signalData) (spectrum.Signal, error) {
	s := spectrum.Signal{
		FrequencyHz:  data.Frequency,
		Mode:         spectrum.DemodulatorMode(data.Mode),
		BandwidthHz:  data.Bandwidth,
		StrengthDBFS: data.Strength,
	}

	if err := json.Unmarshal([]byte(data.Gains), &s.Gains); err != nil {
		return s, fmt.Errorf("unmarshaling gains: %w", err)
	}
	if data.AIAnalysis.Valid {
		s.AIAnalysis = &data.AIAnalysis.String
	}
	if data.DecoderInfo.Valid {
		var info spectrum.DecoderInfo
		if err := json.Unmarshal([]byte(data.DecoderInfo.String), &info); err != nil {
			return s, fmt.Errorf("unmarshaling decoder info: %w", err)
		}
		s.DecoderInfo = &info
	}

	return s, nil
}
