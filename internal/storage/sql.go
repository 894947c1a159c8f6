package storage

const (
	initSchemaSQL = `
CREATE TABLE IF NOT EXISTS sessions (
    id         TEXT PRIMARY KEY,
    start_time DATETIME NOT NULL,
    receiver   TEXT     NOT NULL,
    config     TEXT
);

CREATE TABLE IF NOT EXISTS samples (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id TEXT     NOT NULL REFERENCES sessions (id),
    timestamp  DATETIME NOT NULL,
    frequency  INTEGER  NOT NULL,
    strength   REAL     NOT NULL
);

CREATE TABLE IF NOT EXISTS signals (
    id               INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id       TEXT     NOT NULL REFERENCES sessions (id),
    timestamp        DATETIME NOT NULL,
    frequency        INTEGER  NOT NULL,
    demodulator_mode TEXT     NOT NULL,
    bandwidth        INTEGER  NOT NULL,
    strength         REAL     NOT NULL,
    gains            TEXT     NOT NULL,
    ai_analysis      TEXT,
    decoder_info     TEXT
);`

	initIndexesSQL = `
CREATE INDEX IF NOT EXISTS idx_samples_session_frequency ON samples (session_id, frequency);
CREATE INDEX IF NOT EXISTS idx_signals_session_frequency ON signals (session_id, frequency);`

	insertSessionSQL = `
INSERT INTO sessions (id,
                      start_time,
                      receiver,
                      config)
VALUES (?, ?, ?, ?)`

	selectSessionSQL = `
SELECT
    id,
    start_time,
    receiver,
    config
FROM sessions
WHERE
    id = ?`

	selectSessionsSQL = `
SELECT
    id,
    start_time,
    receiver,
    config
FROM sessions
ORDER BY start_time`

	insertSampleSQL = `
INSERT INTO samples (session_id,
                     timestamp,
                     frequency,
                     strength)
VALUES `

	insertSignalSQL = `
INSERT INTO signals (session_id,
                     timestamp,
                     frequency,
                     demodulator_mode,
                     bandwidth,
                     strength,
                     gains,
                     ai_analysis,
                     decoder_info)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	selectSignalsSQL = `
SELECT
    frequency,
    demodulator_mode,
    bandwidth,
    strength,
    gains,
    ai_analysis,
    decoder_info
FROM signals
WHERE
    session_id = ?
ORDER BY frequency, id`
)
