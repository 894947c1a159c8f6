package spectrum

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestHzToDisplay(t *testing.T) {
	tests := []struct {
		hz   int64
		want string
	}{
		{0, "0"},
		{999, "999"},
		{100_001_000, "100,001,000"},
		{1_296_000_000, "1,296,000,000"},
	}

	for _, tt := range tests {
		if got := HzToDisplay(tt.hz); got != tt.want {
			t.Errorf("HzToDisplay(%d) = %q, want %q", tt.hz, got, tt.want)
		}
	}
}

func TestDisplayToHz(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"100001000", 100_001_000, false},
		{"100,001,000", 100_001_000, false},
		{"100_001_000", 100_001_000, false},
		{" 100 001 000 ", 100_001_000, false},
		{"433.92M", 433_920_000, false},
		{"433.92 MHz", 433_920_000, false},
		{"12.5k", 12_500, false},
		{"", 0, true},
		{"-5", 0, true},
		{"abc", 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DisplayToHz(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Errorf("Expected error for %q, got %d", tt.in, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("DisplayToHz(%q) = %d, want %d", tt.in, got, tt.want)
			}
		})
	}
}

func TestDisplayRoundTrip(t *testing.T) {
	for _, hz := range []int64{1, 7_356, 145_500_000, 2_400_000_000} {
		got, err := DisplayToHz(HzToDisplay(hz))
		if err != nil || got != hz {
			t.Errorf("Round trip of %d gave %d (%v)", hz, got, err)
		}
	}
}

func TestParseDemodulatorMode(t *testing.T) {
	if m, err := ParseDemodulatorMode("wfm_st"); err != nil || m != ModeWFMStereo {
		t.Errorf("Expected WFM_ST, got %q (%v)", m, err)
	}
	if _, err := ParseDemodulatorMode("DSB"); err == nil {
		t.Errorf("Expected an error for an unknown mode")
	}
}

func TestRoundDB(t *testing.T) {
	tests := map[float64]float64{
		-50.04: -50.0,
		-50.06: -50.1,
		-69.96: -70.0,
		12.349: 12.3,
	}

	for in, want := range tests {
		if got := RoundDB(in); got != want {
			t.Errorf("RoundDB(%v) = %v, want %v", in, got, want)
		}
	}
}

func TestDemodulatorMode_UnmarshalText(t *testing.T) {
	var m DemodulatorMode
	if err := m.UnmarshalText([]byte(" usb ")); err != nil || m != ModeUSB {
		t.Errorf("Expected USB, got %q (%v)", m, err)
	}

	// unknown names survive for Valid to reject
	if err := m.UnmarshalText([]byte("dsb")); err != nil || m != "DSB" || m.Valid() {
		t.Errorf("Expected an invalid DSB mode, got %q (%v)", m, err)
	}
}

func TestSignal_JSON(t *testing.T) {
	readback := -30.0
	state := &FrequencyState{FrequencyHz: 100_001_000, Mode: ModeWFM, BandwidthHz: 160_000, StrengthDBFS: &readback}
	s := NewSignal(state, -50.04)

	p, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("Failed to marshal signal: %v", err)
	}
	if !strings.Contains(string(p), `"ai_analysis":null`) {
		t.Errorf("Expected ai_analysis to be null, got %s", p)
	}
	if !strings.Contains(string(p), `"strength_dbfs":-50`) {
		t.Errorf("Expected strength -50, got %s", p)
	}
	if strings.Contains(string(p), "decoder_info") {
		t.Errorf("Expected decoder_info to be omitted, got %s", p)
	}

	annotated := s.WithAnalysis("broadcast FM")
	if s.AIAnalysis != nil {
		t.Errorf("Expected the original signal to be unchanged")
	}
	if annotated.AIAnalysis == nil || *annotated.AIAnalysis != "broadcast FM" {
		t.Errorf("Expected the analysis to be attached")
	}
}
