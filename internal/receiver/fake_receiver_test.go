package receiver

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"
)

// fakeReceiver speaks the gqrx remote control protocol on a loopback listener.
type fakeReceiver struct {
	ln net.Listener

	mu          sync.Mutex
	frequency   int64
	mode        string
	passband    int64
	levels      map[string]float64
	unsupported map[string]bool // level names answered with RPRT 1
	silent      map[string]bool // commands never answered
	splitMode   bool            // deliver the m reply in two writes
	recording   bool
	recordDir   string // where a recording file is created on U RECORD 1
	recordData  string
	commands    []string
	closed      chan struct{}
	strength    func(hz int64) float64
	hook        func(line string) // called after a reply is written
}

func newFakeReceiver(t *testing.T, options ...func(*fakeReceiver)) *fakeReceiver {
	t.Helper()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Failed to listen: %v", err)
	}

	f := &fakeReceiver{
		ln:          ln,
		frequency:   100_000_000,
		mode:        "WFM",
		passband:    160_000,
		levels:      map[string]float64{"SQL": -150, "AF": 6.5, "RF_GAIN": 20, "IF_GAIN": 10, "BB_GAIN": 5},
		unsupported: map[string]bool{},
		silent:      map[string]bool{},
		closed:      make(chan struct{}),
		strength:    func(int64) float64 { return -90.04 },
	}

	for _, option := range options {
		option(f)
	}

	go f.serve()
	t.Cleanup(func() { _ = ln.Close() })

	return f
}

func (f *fakeReceiver) addr() string {
	return f.ln.Addr().String()
}

func (f *fakeReceiver) dial(t *testing.T, options ...func(*Client)) *Client {
	t.Helper()

	options = append([]func(*Client){WithTimeouts(200*time.Millisecond, 5*time.Millisecond, 5*time.Millisecond)}, options...)
	c, err := Dial(context.Background(), f.addr(), options...)
	if err != nil {
		t.Fatalf("Failed to dial fake receiver: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })

	return c
}

func (f *fakeReceiver) history() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.commands...)
}

func (f *fakeReceiver) serve() {
	conn, err := f.ln.Accept()
	if err != nil {
		return
	}
	defer close(f.closed)
	defer conn.Close()

	scanner := bufio.NewScanner(conn)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		f.mu.Lock()
		f.commands = append(f.commands, line)
		silent := f.silent[line]
		hook := f.hook
		f.mu.Unlock()

		if silent {
			continue
		}

		for _, part := range f.handle(line) {
			if _, err := conn.Write([]byte(part)); err != nil {
				return
			}
			time.Sleep(10 * time.Millisecond)
		}

		if hook != nil {
			hook(line)
		}
	}
}

// handle returns the reply in the chunks it is written in.
func (f *fakeReceiver) handle(line string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	fields := strings.Fields(line)
	if len(fields) == 0 {
		return []string{"RPRT 1\n"}
	}

	switch {
	case fields[0] == "F" && len(fields) == 2:
		hz, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return []string{"RPRT 1\n"}
		}
		f.frequency = hz
		return []string{"RPRT 0\n"}

	case fields[0] == "f":
		return []string{fmt.Sprintf("%d\n", f.frequency)}

	case fields[0] == "M" && len(fields) == 3:
		pb, err := strconv.ParseInt(fields[2], 10, 64)
		if err != nil {
			return []string{"RPRT 1\n"}
		}
		f.mode, f.passband = fields[1], pb
		return []string{"RPRT 0\n"}

	case fields[0] == "m":
		reply := fmt.Sprintf("%s\n%d\n", f.mode, f.passband)
		if f.splitMode {
			cut := len(f.mode) + 3
			return []string{reply[:cut], reply[cut:]}
		}
		return []string{reply}

	case fields[0] == "L" && len(fields) == 3:
		if f.unsupported[fields[1]] {
			return []string{"RPRT 1\n"}
		}
		v, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			return []string{"RPRT 1\n"}
		}
		f.levels[fields[1]] = v
		return []string{"RPRT 0\n"}

	case fields[0] == "l" && len(fields) == 2:
		if fields[1] == "STRENGTH" {
			return []string{fmt.Sprintf("%.2f\n", f.strength(f.frequency))}
		}
		if f.unsupported[fields[1]] {
			return []string{"RPRT 1\n"}
		}
		v, ok := f.levels[fields[1]]
		if !ok {
			return []string{"RPRT 1\n"}
		}
		return []string{strconv.FormatFloat(v, 'f', -1, 64) + "\n"}

	case fields[0] == "U" && len(fields) == 3 && fields[1] == "RECORD":
		f.recording = fields[2] == "1"
		if f.recording && f.recordDir != "" {
			name := fmt.Sprintf("gqrx_%s_%d.wav", time.Now().UTC().Format("20060102_150405"), f.frequency)
			_ = os.WriteFile(filepath.Join(f.recordDir, name), []byte(f.recordData), 0o644)
		}
		return []string{"RPRT 0\n"}

	case fields[0] == "u" && len(fields) == 2 && fields[1] == "RECORD":
		if f.recording {
			return []string{"1\n"}
		}
		return []string{"0\n"}
	}

	return []string{"RPRT 1\n"}
}
