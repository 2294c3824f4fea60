package ui

import (
	"context"

	"github.com/yarlson/pin"
)

// Spinner marks a phase whose size is unknown until it ends, such as the
// COPY into a staging file. A nil *Spinner is a no-op.
type Spinner struct {
	p      *pin.Pin
	cancel context.CancelFunc
}

// StartSpinner shows message with a spinner until Stop is called.
func StartSpinner(message string) *Spinner {
	s := &Spinner{p: pin.New(message,
		pin.WithSpinnerColor(pin.ColorCyan),
		pin.WithTextColor(pin.ColorYellow))}

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.p.Start(ctx)
	return s
}

// Stop replaces the spinner with a final message.
func (s *Spinner) Stop(message string) {
	if s == nil || s.p == nil {
		return
	}
	s.p.Stop(message)
	if s.cancel != nil {
		s.cancel()
	}
	s.p = nil
}
