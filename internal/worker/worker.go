// Package worker runs the detection, OCR and face embedding models in a
// long-lived child process and talks to it over length-prefixed pipes.
package worker

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// maxFrameSize bounds a single response so a corrupted header cannot make us
// allocate gigabytes.
const maxFrameSize = 64 << 20

var (
	ErrWorkerClosed  = errors.New("inference worker is closed")
	ErrFrameTooLarge = errors.New("inference frame exceeds size limit")
)

// lockedBuffer collects child stderr. exec copies into it from its own
// goroutine while we may read it for error reports.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	// keep only the tail, crash traces are at the end
	if b.buf.Len() > 16<<10 {
		tail := append([]byte(nil), b.buf.Bytes()[b.buf.Len()-8<<10:]...)
		b.buf.Reset()
		b.buf.Write(tail)
	}
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Process is one model worker. Requests are serialized: the protocol has no
// request ids, so a response always belongs to the last request. A child that
// fails mid-request is killed and a fresh one is launched on the next call.
type Process struct {
	command string
	args    []string
	launch  func() error

	cmd      *exec.Cmd
	stderr   *lockedBuffer
	stdin    io.WriteCloser
	dataPipe io.ReadCloser
	log      zerolog.Logger
	onCrash  func(error)

	mu     sync.Mutex
	closed bool
	broken bool
}

// Start launches the worker. Responses come back on file descriptor 3 so the
// child's own prints on stdout never corrupt the data channel.
func Start(command string, args []string, log zerolog.Logger) (*Process, error) {
	p := &Process{command: command, args: args, log: log}
	p.launch = p.spawn
	if err := p.launch(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Process) spawn() error {
	cmd := exec.Command(p.command, p.args...)
	stderr := &lockedBuffer{}
	cmd.Stderr = stderr

	r, w, err := os.Pipe()
	if err != nil {
		return fmt.Errorf("failed to create pipe: %w", err)
	}
	cmd.ExtraFiles = []*os.File{w}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("failed to create stdin pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		w.Close()
		r.Close()
		return fmt.Errorf("inference worker failed to start: %w", err)
	}

	// only the child may hold the write end
	w.Close()

	p.log.Info().
		Str("command", p.command).
		Strs("args", p.args).
		Int("pid", cmd.Process.Pid).
		Msg("inference worker started")

	p.cmd = cmd
	p.stderr = stderr
	p.stdin = stdin
	p.dataPipe = r
	return nil
}

// OnCrash registers fn to run each time a child is abandoned.
func (p *Process) OnCrash(fn func(error)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onCrash = fn
}

// Communicate sends one request frame and waits for the matching response.
// If ctx ends first the child is killed and replaced on the next call.
func (p *Process) Communicate(ctx context.Context, data []byte) ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil, ErrWorkerClosed
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if p.broken {
		if err := p.relaunch(); err != nil {
			return nil, err
		}
	}

	type result struct {
		body []byte
		err  error
	}
	done := make(chan result, 1)
	go func() {
		body, err := p.exchange(data)
		done <- result{body: body, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil {
			err := p.describe(res.err)
			p.abandon(err)
			return nil, err
		}
		return res.body, nil
	case <-ctx.Done():
		p.kill()
		<-done
		p.broken = true
		return nil, ctx.Err()
	}
}

func (p *Process) relaunch() error {
	if p.launch == nil {
		return ErrWorkerClosed
	}
	if err := p.launch(); err != nil {
		return fmt.Errorf("restart inference worker: %w", err)
	}
	p.broken = false
	p.log.Warn().Msg("inference worker restarted")
	return nil
}

// abandon drops a child whose stream can no longer be trusted.
func (p *Process) abandon(err error) {
	p.log.Error().Err(err).Msg("inference worker failed, restarting on next request")
	p.kill()
	p.broken = true
	if p.onCrash != nil {
		p.onCrash(err)
	}
}

func (p *Process) exchange(data []byte) ([]byte, error) {
	// Protocol: [uint32 big endian length][payload]
	if err := binary.Write(p.stdin, binary.BigEndian, uint32(len(data))); err != nil {
		return nil, err
	}
	if _, err := p.stdin.Write(data); err != nil {
		return nil, err
	}

	header := make([]byte, 4)
	if _, err := io.ReadFull(p.dataPipe, header); err != nil {
		return nil, err
	}

	respLen := binary.BigEndian.Uint32(header)
	if respLen > maxFrameSize {
		return nil, fmt.Errorf("%w: %d bytes", ErrFrameTooLarge, respLen)
	}
	body := make([]byte, respLen)
	if _, err := io.ReadFull(p.dataPipe, body); err != nil {
		return nil, err
	}
	return body, nil
}

// describe attaches the child's stderr tail, which holds the traceback when
// the worker crashed mid-request.
func (p *Process) describe(err error) error {
	if p.stderr == nil {
		return err
	}
	tail := strings.TrimSpace(p.stderr.String())
	if tail == "" {
		return err
	}
	return fmt.Errorf("%w (worker stderr: %s)", err, tail)
}

func (p *Process) kill() {
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.dataPipe != nil {
		p.dataPipe.Close()
	}
	if p.cmd != nil && p.cmd.Process != nil {
		_ = p.cmd.Process.Kill()
		cmd := p.cmd
		go func() { _ = cmd.Wait() }()
	}
}

func (p *Process) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true
	if p.broken {
		// the last child was already killed and reaped
		return nil
	}

	// closing stdin is the child's signal to exit cleanly
	if p.stdin != nil {
		p.stdin.Close()
	}
	if p.dataPipe != nil {
		p.dataPipe.Close()
	}
	if p.cmd == nil {
		return nil
	}
	if err := p.cmd.Wait(); err != nil {
		p.log.Warn().Err(err).Str("stderr", p.stderr.String()).Msg("inference worker exited with error")
		return err
	}
	return nil
}
