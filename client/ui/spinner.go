package ui

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
)

// Spinner reports the progress of a long OpenStack operation on stderr.
// When stderr is not a terminal, nothing spins and only the final line is printed.
// The first of Success, Warn or Fail ends the spinner, later calls do nothing.
type Spinner struct {
	spinner *spinner.Spinner
	out     io.Writer

	mutex sync.Mutex
	// Guarded by mutex
	msg  string
	done bool
}

// NewSpinner starts a spinner with the given message.
func NewSpinner(msg string) *Spinner {
	s := &Spinner{out: os.Stderr, msg: msg}
	if !isatty.IsTerminal(os.Stderr.Fd()) && !isatty.IsCygwinTerminal(os.Stderr.Fd()) {
		return s
	}

	s.spinner = spinner.New(
		spinner.CharSets[14],
		100*time.Millisecond,
		spinner.WithHiddenCursor(true),
		spinner.WithWriter(os.Stderr),
		spinner.WithSuffix(" "+msg),
	)
	s.spinner.Start()
	return s
}

// UpdateMessage updates the spinner message.
func (s *Spinner) UpdateMessage(msg string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	s.msg = msg
	if s.spinner != nil && !s.done {
		s.spinner.Lock()
		s.spinner.Suffix = " " + msg
		s.spinner.Unlock()
	}
}

func (s *Spinner) Success(msg ...string) {
	s.stop(color.HiGreenString("✓"), msg)
}

func (s *Spinner) Warn(msg ...string) {
	s.stop(color.HiYellowString("!"), msg)
}

func (s *Spinner) Fail(msg ...string) {
	s.stop(color.HiRedString("✗"), msg)
}

// stop prints the final line, falling back to the current message.
func (s *Spinner) stop(mark string, msg []string) {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.done {
		return
	}
	s.done = true

	if len(msg) == 0 {
		msg = []string{s.msg}
	}
	line := fmt.Sprintf("%s %s\n", mark, msg[0])

	if s.spinner == nil {
		_, _ = io.WriteString(s.out, line)
		return
	}
	s.spinner.FinalMSG = line
	s.spinner.Stop()
}
