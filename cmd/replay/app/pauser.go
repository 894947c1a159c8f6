package app

import (
	"context"
	"fmt"
	"io"

	"github.com/eiannone/keyboard"

	"github.com/roman-kulish/radio-scanner/internal/spectrum"
)

// KeyPauser waits for the operator between signals: space, enter or n moves
// to the next signal, q, Esc or Ctrl-C ends the replay.
type KeyPauser struct {
	keys <-chan keyboard.KeyEvent
	out  io.Writer
}

// NewKeyPauser returns a pauser reading keys from events and printing the
// prompt to out.
func NewKeyPauser(events <-chan keyboard.KeyEvent, out io.Writer) *KeyPauser {
	return &KeyPauser{keys: events, out: out}
}

// OpenKeyboard puts the terminal into raw mode and returns a pauser over it
// together with the function restoring the terminal.
func OpenKeyboard(out io.Writer) (*KeyPauser, func(), error) {
	events, err := keyboard.GetKeys(10)
	if err != nil {
		return nil, nil, fmt.Errorf("opening keyboard: %w", err)
	}
	return NewKeyPauser(events, out), func() { _ = keyboard.Close() }, nil
}

func (p *KeyPauser) Pause(ctx context.Context, index, total int, signal spectrum.Signal, state *spectrum.FrequencyState) (bool, error) {
	if index == total-1 {
		fmt.Fprintf(p.out, "[%d/%d] %s: last signal, press any key to finish\n", index+1, total, spectrum.HumanHz(float64(signal.FrequencyHz)))
	} else {
		fmt.Fprintf(p.out, "[%d/%d] %s: space for next, q to quit\n", index+1, total, spectrum.HumanHz(float64(signal.FrequencyHz)))
	}

	for {
		select {
		case <-ctx.Done():
			return false, ctx.Err()

		case ev, ok := <-p.keys:
			if !ok {
				return false, nil
			}
			if ev.Err != nil {
				return false, fmt.Errorf("reading keyboard: %w", ev.Err)
			}

			switch {
			case ev.Key == keyboard.KeyCtrlC || ev.Key == keyboard.KeyEsc || ev.Rune == 'q' || ev.Rune == 'Q':
				return false, nil
			case index == total-1:
				return true, nil
			case ev.Key == keyboard.KeySpace || ev.Key == keyboard.KeyEnter || ev.Rune == 'n' || ev.Rune == 'N':
				return true, nil
			}
		}
	}
}
