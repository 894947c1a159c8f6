package decoder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// follower reads a file that is still being written, like tail -f. Read
// blocks at end of file until more data arrives or the context is done,
// after which the remaining data is returned followed by io.EOF.
type follower struct {
	ctx          context.Context
	path         string
	frequencyHz  int64
	since        time.Time // recordings modified before are stale
	pollInterval time.Duration

	mu   sync.Mutex
	file *os.File
}

func newFollower(ctx context.Context, path string, hz int64, since time.Time, pollInterval time.Duration) *follower {
	return &follower{
		ctx:          ctx,
		path:         path,
		frequencyHz:  hz,
		since:        since.Truncate(time.Second),
		pollInterval: pollInterval,
	}
}

func (f *follower) Read(p []byte) (int, error) {
	for {
		file, err := f.open()
		if err != nil {
			if !errors.Is(err, fs.ErrNotExist) {
				return 0, err
			}
			if !f.wait() {
				return 0, io.EOF
			}
			continue
		}

		n, err := file.Read(p)
		if n > 0 {
			return n, nil
		}
		if err != nil && !errors.Is(err, io.EOF) {
			return 0, err
		}
		if !f.wait() {
			return 0, io.EOF
		}
	}
}

// Path returns the file being followed.
func (f *follower) Path() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.path
}

func (f *follower) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	return err
}

func (f *follower) open() (*os.File, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.file != nil {
		return f.file, nil
	}

	file, err := os.Open(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		// the receiver names the file after its own clock
		if match := f.latestMatch(); match != "" {
			if file, err = os.Open(match); err == nil {
				f.path = match
			}
		}
	}
	if err != nil {
		return nil, err
	}

	f.file = file
	return file, nil
}

func (f *follower) latestMatch() string {
	pattern := filepath.Join(filepath.Dir(f.path), fmt.Sprintf("gqrx_*_%d.wav", f.frequencyHz))
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return ""
	}

	var latest string
	var latestMod time.Time
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil || info.ModTime().Before(f.since) {
			continue
		}
		if latest == "" || info.ModTime().After(latestMod) {
			latest, latestMod = match, info.ModTime()
		}
	}
	return latest
}

func (f *follower) wait() bool {
	t := time.NewTimer(f.pollInterval)
	defer t.Stop()

	select {
	case <-f.ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
