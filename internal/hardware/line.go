// Package hardware drives the gate controller board over its serial line:
// presence signals come in as text lines and actuator commands go out as
// text lines.
package hardware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"go.bug.st/serial"

	"gate-service/internal/config"
)

var ErrLineClosed = errors.New("serial line is closed")

const idlePause = 10 * time.Millisecond

// Port is the part of a serial port the line needs. A Read that hits the
// read timeout returns 0 bytes and no error.
type Port interface {
	io.ReadWriteCloser
	ResetInputBuffer() error
}

type Opener func() (Port, error)

// SerialOpener opens the configured device. The board resets when the port
// opens, so the opener waits for it to settle and drops whatever it printed
// while booting.
func SerialOpener(cfg config.SerialConfig, log zerolog.Logger) Opener {
	return func() (Port, error) {
		port, err := serial.Open(cfg.Port, &serial.Mode{BaudRate: cfg.BaudRate})
		if err != nil {
			return nil, fmt.Errorf("open serial port %s: %w", cfg.Port, err)
		}
		if err := port.SetReadTimeout(cfg.ReadTimeout); err != nil {
			port.Close()
			return nil, fmt.Errorf("set read timeout on %s: %w", cfg.Port, err)
		}

		time.Sleep(cfg.SettleDelay)

		if err := port.ResetInputBuffer(); err != nil {
			port.Close()
			return nil, fmt.Errorf("reset input buffer on %s: %w", cfg.Port, err)
		}

		log.Info().
			Str("port", cfg.Port).
			Int("baud", cfg.BaudRate).
			Msg("serial line connected")
		return port, nil
	}
}

// Line is the owned connection to the controller board. It is shared by the
// presence sensor and the actuator and may be reopened after errors.
type Line struct {
	open Opener
	log  zerolog.Logger

	mu      sync.Mutex
	port    Port
	pending []byte
	closed  bool
}

func NewLine(open Opener, log zerolog.Logger) *Line {
	return &Line{
		open: open,
		log:  log.With().Str("component", "serial").Logger(),
	}
}

// ReadLine returns the next complete text line without its terminator. It
// polls the port until a line arrives or ctx ends.
func (l *Line) ReadLine(ctx context.Context) (string, error) {
	chunk := make([]byte, 64)
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		l.mu.Lock()
		if line, ok := l.takeLine(); ok {
			l.mu.Unlock()
			return line, nil
		}
		port, err := l.portLocked()
		if err != nil {
			l.mu.Unlock()
			return "", err
		}
		n, err := port.Read(chunk)
		if n > 0 {
			l.pending = append(l.pending, chunk[:n]...)
		}
		l.mu.Unlock()

		if err != nil {
			return "", fmt.Errorf("read serial line: %w", err)
		}
		if n == 0 {
			select {
			case <-ctx.Done():
			case <-time.After(idlePause):
			}
		}
	}
}

func (l *Line) takeLine() (string, bool) {
	idx := bytes.IndexByte(l.pending, '\n')
	if idx < 0 {
		return "", false
	}
	// decode copies; compacting reuses the backing array
	line := decode(l.pending[:idx])
	l.pending = append(l.pending[:0], l.pending[idx+1:]...)
	return line, true
}

// decode accepts UTF-8 and falls back to Latin-1 for the noise some boards
// print during reset.
func decode(raw []byte) string {
	if utf8.Valid(raw) {
		return strings.TrimSpace(string(raw))
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return strings.TrimSpace(string(runes))
}

func (l *Line) WriteLine(ctx context.Context, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	port, err := l.portLocked()
	if err != nil {
		return err
	}
	if _, err := port.Write([]byte(text + "\n")); err != nil {
		return fmt.Errorf("write serial line: %w", err)
	}
	return nil
}

// Flush drops buffered input, including signals that arrived while the
// caller was busy.
func (l *Line) Flush() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = l.pending[:0]
	if l.port == nil {
		return nil
	}
	return l.port.ResetInputBuffer()
}

// Reset closes the port so the next read or write reopens it.
func (l *Line) Reset() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.pending = l.pending[:0]
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	l.log.Warn().Err(err).Msg("serial line reset")
	return err
}

func (l *Line) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.closed = true
	if l.port == nil {
		return nil
	}
	err := l.port.Close()
	l.port = nil
	return err
}

func (l *Line) portLocked() (Port, error) {
	if l.closed {
		return nil, ErrLineClosed
	}
	if l.port != nil {
		return l.port, nil
	}
	port, err := l.open()
	if err != nil {
		return nil, err
	}
	l.port = port
	return port, nil
}
