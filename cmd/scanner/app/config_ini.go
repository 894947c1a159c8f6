package app

import (
	"encoding"
	"fmt"

	"gopkg.in/ini.v1"
)

// decodeINI reads the INI variant of the configuration into config. Section
// and key names match the YAML ones; nested maps become dotted sections, e.g.
// [scan.gains] and [analysis.location]. Missing keys keep their value.
func decodeINI(data []byte, config *Config) error {
	file, err := ini.LoadSources(ini.LoadOptions{
		KeyValueDelimiters:  "=",
		IgnoreInlineComment: true,
	}, data)
	if err != nil {
		return err
	}

	r := iniReader{file: file}

	if level := r.string("settings", "logLevel", ""); level != "" {
		if err = config.Settings.LogLevel.UnmarshalText([]byte(level)); err != nil {
			return fmt.Errorf("settings.logLevel: %w", err)
		}
	}

	rc := &config.Receiver
	rc.Address = r.string("receiver", "address", rc.Address)
	r.duration("receiver", "dialTimeout", &rc.DialTimeout)
	r.duration("receiver", "replyTimeout", &rc.ReplyTimeout)
	r.duration("receiver", "drainTimeout", &rc.DrainTimeout)
	r.duration("receiver", "strengthDrainTimeout", &rc.StrengthDrainTimeout)
	r.duration("receiver", "settleTime", &rc.SettleTime)
	r.duration("receiver", "modeSettleTime", &rc.ModeSettleTime)

	sc := &config.Scan
	r.frequency("scan", "start", &sc.Start)
	r.frequency("scan", "target", &sc.Target)
	r.int("scan", "precision", &sc.Precision)
	r.text("scan", "mode", &sc.Mode)
	r.int64("scan", "bandwidth", &sc.Bandwidth)
	r.float("scan", "strengthLock", &sc.StrengthLock)
	r.float("scan", "squelch", &sc.Squelch)
	r.bool("scan", "overlapProtection", &sc.OverlapProtection)
	sc.LogPath = r.string("scan", "logPath", sc.LogPath)
	sc.Decoder = r.string("scan", "decoder", sc.Decoder)
	sc.RecordDir = r.string("scan", "recordDir", sc.RecordDir)
	r.duration("scan", "recordDuration", &sc.RecordDuration)
	r.optional("scan.gains", "af", &sc.Gains.AF)
	r.optional("scan.gains", "rf", &sc.Gains.RF)
	r.optional("scan.gains", "if", &sc.Gains.IF)
	r.optional("scan.gains", "bb", &sc.Gains.BB)

	ac := &config.Analysis
	r.bool("analysis", "enabled", &ac.Enabled)
	ac.Endpoint = r.string("analysis", "endpoint", ac.Endpoint)
	ac.Model = r.string("analysis", "model", ac.Model)
	ac.APIKey = r.string("analysis", "apiKey", ac.APIKey)
	r.duration("analysis", "timeout", &ac.Timeout)
	r.optional("analysis.location", "latitude", &ac.Location.Latitude)
	r.optional("analysis.location", "longitude", &ac.Location.Longitude)
	r.optional("analysis.location", "altitude", &ac.Location.Altitude)
	ac.Location.Description = r.string("analysis.location", "description", ac.Location.Description)

	st := &config.Storage
	r.bool("storage", "enabled", &st.Enabled)
	st.DataDirectory = r.string("storage", "dataDirectory", st.DataDirectory)
	r.int("storage", "maxBatchSize", &st.MaxBatchSize)

	mc := &config.MQTT
	r.bool("mqtt", "enabled", &mc.Enabled)
	mc.Broker = r.string("mqtt", "broker", mc.Broker)
	mc.Topic = r.string("mqtt", "topic", mc.Topic)
	mc.ClientID = r.string("mqtt", "clientID", mc.ClientID)
	mc.Username = r.string("mqtt", "username", mc.Username)
	mc.Password = r.string("mqtt", "password", mc.Password)

	config.Metrics.Listen = r.string("metrics", "listen", config.Metrics.Listen)

	return r.err
}

// iniReader reads typed keys and keeps the first conversion error.
type iniReader struct {
	file *ini.File
	err  error
}

func (r *iniReader) key(section, name string) *ini.Key {
	if r.err != nil {
		return nil
	}
	sec, err := r.file.GetSection(section)
	if err != nil || !sec.HasKey(name) {
		return nil
	}
	return sec.Key(name)
}

func (r *iniReader) fail(section, name string, err error) {
	if err != nil && r.err == nil {
		r.err = fmt.Errorf("%s.%s: %w", section, name, err)
	}
}

func (r *iniReader) string(section, name, def string) string {
	if k := r.key(section, name); k != nil {
		return k.String()
	}
	return def
}

func (r *iniReader) text(section, name string, v encoding.TextUnmarshaler) {
	if k := r.key(section, name); k != nil {
		r.fail(section, name, v.UnmarshalText([]byte(k.String())))
	}
}

func (r *iniReader) int(section, name string, v *int) {
	if k := r.key(section, name); k != nil {
		n, err := k.Int()
		r.fail(section, name, err)
		*v = n
	}
}

func (r *iniReader) int64(section, name string, v *int64) {
	if k := r.key(section, name); k != nil {
		n, err := k.Int64()
		r.fail(section, name, err)
		*v = n
	}
}

func (r *iniReader) float(section, name string, v *float64) {
	if k := r.key(section, name); k != nil {
		f, err := k.Float64()
		r.fail(section, name, err)
		*v = f
	}
}

func (r *iniReader) optional(section, name string, v **float64) {
	if k := r.key(section, name); k != nil && k.String() != "" {
		f, err := k.Float64()
		r.fail(section, name, err)
		*v = &f
	}
}

func (r *iniReader) bool(section, name string, v *bool) {
	if k := r.key(section, name); k != nil {
		b, err := k.Bool()
		r.fail(section, name, err)
		*v = b
	}
}

func (r *iniReader) duration(section, name string, v *Duration) {
	if k := r.key(section, name); k != nil {
		r.fail(section, name, v.UnmarshalText([]byte(k.String())))
	}
}

func (r *iniReader) frequency(section, name string, v *Frequency) {
	if k := r.key(section, name); k != nil {
		r.fail(section, name, v.UnmarshalText([]byte(k.String())))
	}
}
