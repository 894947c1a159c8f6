package storage

import (
	"database/sql"
	"time"
)

type sampleData struct {
	SessionID string
	Timestamp time.Time
	Frequency int64
	Strength  float64
}

type signalData struct {
	SessionID   string
	Timestamp   time.Time
	Frequency   int64
	Mode        string
	Bandwidth   int64
	Strength    float64
	Gains       string
	AIAnalysis  sql.NullString
	DecoderInfo sql.NullString
}
