// Package command translates high-level session intents (send a message,
// press a key, clear the input line) into raw PTY byte sequences with
// pacing delays.
//
// The delays matter: the interactive CLIs downstream need processing time
// after bracketed paste and key events. Shortening them under load loses
// input.
package command

import (
	"context"
	"fmt"
	"time"
)

// Pacing delays between writes.
const (
	MessageDelay       = 1000 * time.Millisecond
	LegacyMessageDelay = 100 * time.Millisecond
	KeyDelay           = 200 * time.Millisecond
	ClearCommandDelay  = 300 * time.Millisecond
	EnvVarDelay        = 500 * time.Millisecond
)

// keySequences maps symbolic key names to their terminal byte sequences.
// Unknown keys are written as literal bytes.
var keySequences = map[string]string{
	"Enter":     "\r",
	"C-c":       "\x03",
	"C-u":       "\x15",
	"C-l":       "\x0c",
	"C-d":       "\x04",
	"Escape":    "\x1b",
	"Tab":       "\t",
	"Backspace": "\x7f",
	"Up":        "\x1b[A",
	"Down":      "\x1b[B",
	"Right":     "\x1b[C",
	"Left":      "\x1b[D",
	"Delete":    "\x1b[3~",
	"Home":      "\x1b[H",
	"End":       "\x1b[F",
	"PageUp":    "\x1b[5~",
	"PageDown":  "\x1b[6~",
}

// Writer is the slice of the session backend the commander needs.
type Writer interface {
	Write(name string, p []byte) error
}

// Commander paces high-level writes into a session backend.
type Commander struct {
	backend Writer

	// messageDelay is MessageDelay, or LegacyMessageDelay when legacy
	// pacing is enabled for older runtime builds.
	messageDelay time.Duration
}

// New creates a Commander over the given backend.
func New(backend Writer) *Commander {
	return &Commander{backend: backend, messageDelay: MessageDelay}
}

// NewLegacy creates a Commander using the legacy 100ms message delay.
func NewLegacy(backend Writer) *Commander {
	return &Commander{backend: backend, messageDelay: LegacyMessageDelay}
}

// SendMessage writes text followed by Enter and waits the message delay.
func (c *Commander) SendMessage(ctx context.Context, session, text string) error {
	if err := c.backend.Write(session, []byte(text+"\r")); err != nil {
		return err
	}
	return sleep(ctx, c.messageDelay)
}

// SendKey writes the byte sequence for the named key and waits the key
// delay. Unknown key names are sent as literal bytes.
func (c *Commander) SendKey(ctx context.Context, session, key string) error {
	seq, ok := keySequences[key]
	if !ok {
		seq = key
	}
	if err := c.backend.Write(session, []byte(seq)); err != nil {
		return err
	}
	return sleep(ctx, KeyDelay)
}

// ClearCommandLine interrupts any running input and clears the line:
// Ctrl-C, pause, Ctrl-U.
func (c *Commander) ClearCommandLine(ctx context.Context, session string) error {
	if err := c.backend.Write(session, []byte(keySequences["C-c"])); err != nil {
		return err
	}
	if err := sleep(ctx, ClearCommandDelay); err != nil {
		return err
	}
	if err := c.backend.Write(session, []byte(keySequences["C-u"])); err != nil {
		return err
	}
	return sleep(ctx, KeyDelay)
}

// SetEnv exports an environment variable inside the session's shell.
func (c *Commander) SetEnv(ctx context.Context, session, key, value string) error {
	line := fmt.Sprintf("export %s=%q\r", key, value)
	if err := c.backend.Write(session, []byte(line)); err != nil {
		return err
	}
	return sleep(ctx, EnvVarDelay)
}

// sleep waits d or until ctx is cancelled.
func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
