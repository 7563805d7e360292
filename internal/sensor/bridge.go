// Package sensor runs external sensor helper processes and decodes their
// newline-delimited output into events.
package sensor

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/user/breathlab/internal/metrics"
)

// DefaultStopGrace is how long a helper gets between SIGTERM and SIGKILL.
const DefaultStopGrace = 2 * time.Second

const (
	// MaxLine bounds one stdout line. A longer line is a protocol error.
	MaxLine = 64 * 1024

	maxStderrLine = 4 * 1024
	errorTextLen  = 256
)

// Config describes one sensor helper.
type Config struct {
	// Name labels logs, metrics and events ("eye", "breath").
	Name          string
	Command       string
	Shell         string
	KnownMessages []string
	StopGrace     time.Duration
}

// Handler receives decoded events on the reader goroutine. It may call Stop.
type Handler func(Event)

// Bridge owns at most one live helper process at a time.
type Bridge struct {
	cfg     Config
	decoder *Decoder
	handler Handler

	mu   sync.Mutex
	proc *process
	last *process
}

type process struct {
	cmd     *exec.Cmd
	stopped atomic.Bool
	done    chan struct{}
}

// NewBridge creates a bridge. A nil handler discards events.
func NewBridge(cfg Config, handler Handler) *Bridge {
	if cfg.Shell == "" {
		cfg.Shell = "/bin/sh"
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = DefaultStopGrace
	}
	if cfg.KnownMessages == nil {
		cfg.KnownMessages = DefaultKnownMessages
	}
	if handler == nil {
		handler = func(Event) {}
	}
	return &Bridge{
		cfg:     cfg,
		decoder: NewDecoder(cfg.KnownMessages),
		handler: handler,
	}
}

// Name returns the configured source name.
func (b *Bridge) Name() string { return b.cfg.Name }

// Start terminates any previous instance and launches a fresh process.
// Cancelling ctx stops the instance.
func (b *Bridge) Start(ctx context.Context) error {
	if strings.TrimSpace(b.cfg.Command) == "" {
		metrics.IncBridgeStart(b.cfg.Name, false)
		return fmt.Errorf("%s sensor: no command configured", b.cfg.Name)
	}

	b.Stop()

	cmd := exec.Command(b.cfg.Shell, "-c", b.cfg.Command)
	setGroup(cmd)
	cmd.Stderr = &stderrLogger{source: b.cfg.Name}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		metrics.IncBridgeStart(b.cfg.Name, false)
		return fmt.Errorf("%s sensor: stdout pipe: %w", b.cfg.Name, err)
	}
	if err := cmd.Start(); err != nil {
		metrics.IncBridgeStart(b.cfg.Name, false)
		return fmt.Errorf("%s sensor: start %q: %w", b.cfg.Name, b.cfg.Command, err)
	}

	p := &process{cmd: cmd, done: make(chan struct{})}
	b.mu.Lock()
	b.proc = p
	b.last = p
	b.mu.Unlock()

	metrics.IncBridgeStart(b.cfg.Name, true)
	metrics.SetBridgeRunning(b.cfg.Name, true)
	slog.Info("sensor started", "source", b.cfg.Name, "pid", cmd.Process.Pid)

	go func() {
		b.read(p, stdout)
		if err := cmd.Wait(); err != nil {
			slog.Debug("sensor exited", "source", b.cfg.Name, "error", err)
		}
		metrics.SetBridgeRunning(b.cfg.Name, false)
		close(p.done)
	}()
	go func() {
		select {
		case <-ctx.Done():
			b.stopProcess(p, "stop")
		case <-p.done:
		}
	}()
	return nil
}

// Stop tears down the live instance, if any. It never blocks and is safe to
// call repeatedly and from the event handler.
func (b *Bridge) Stop() {
	b.mu.Lock()
	p := b.proc
	b.mu.Unlock()
	if p != nil {
		b.stopProcess(p, "stop")
	}
}

// Running reports whether a process instance is live.
func (b *Bridge) Running() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.proc != nil
}

// Done returns a channel closed once the most recently started instance has
// been reaped. It is already closed when nothing was started.
func (b *Bridge) Done() <-chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.last == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return b.last.done
}

func (b *Bridge) read(p *process, r io.Reader) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), MaxLine)
	scanner.Split(scanLines)
	for scanner.Scan() {
		if p.stopped.Load() {
			// drain so the helper never blocks on a full pipe
			continue
		}
		ev := b.decoder.Decode(scanner.Text())
		ev.Source = b.cfg.Name
		ev.At = time.Now()
		metrics.IncSensorLine(b.cfg.Name, string(ev.Kind))

		switch ev.Kind {
		case KindMessage:
			slog.Info("sensor message", "source", b.cfg.Name, "text", ev.Text)
		case KindError:
			slog.Warn("sensor protocol error", "source", b.cfg.Name, "line", ev.Text)
		}
		b.handler(ev)

		if ev.Kind == KindError {
			b.stopProcess(p, "protocol_error")
		}
	}
	err := scanner.Err()
	var long *longLineError
	if errors.As(err, &long) && !p.stopped.Load() {
		b.oversized(p, r, long.head)
		return
	}
	if errors.Is(err, bufio.ErrTooLong) && !p.stopped.Load() {
		b.oversized(p, r, "")
		return
	}
	if err != nil && !p.stopped.Load() {
		slog.Warn("sensor read failed", "source", b.cfg.Name, "error", err)
	}
	b.stopProcess(p, "eof")
}

type longLineError struct {
	head string
}

func (e *longLineError) Error() string {
	return fmt.Sprintf("line exceeds %d bytes", MaxLine)
}

// scanLines is bufio.ScanLines that fails with the start of the line once
// it fills MaxLine without a newline.
func scanLines(data []byte, atEOF bool) (int, []byte, error) {
	advance, token, err := bufio.ScanLines(data, atEOF)
	if advance == 0 && token == nil && err == nil && len(data) >= MaxLine {
		return 0, nil, &longLineError{head: string(data[:errorTextLen])}
	}
	return advance, token, err
}

// oversized reports a line past MaxLine as one Error event, stops the helper
// and drains what is left of its output.
func (b *Bridge) oversized(p *process, r io.Reader, head string) {
	ev := Event{
		Kind:   KindError,
		Text:   fmt.Sprintf("line exceeds %d bytes: %s...", MaxLine, head),
		Source: b.cfg.Name,
		At:     time.Now(),
	}
	metrics.IncSensorLine(b.cfg.Name, string(ev.Kind))
	slog.Warn("sensor protocol error", "source", b.cfg.Name, "line", ev.Text)
	b.handler(ev)
	b.stopProcess(p, "protocol_error")
	_, _ = io.Copy(io.Discard, r)
}

func (b *Bridge) stopProcess(p *process, reason string) {
	if !p.stopped.CompareAndSwap(false, true) {
		return
	}
	b.mu.Lock()
	if b.proc == p {
		b.proc = nil
	}
	b.mu.Unlock()

	metrics.IncBridgeStop(b.cfg.Name, reason)
	slog.Info("sensor stopping", "source", b.cfg.Name, "reason", reason)

	if p.cmd == nil || p.cmd.Process == nil {
		return
	}
	grace := b.cfg.StopGrace
	go func() {
		if err := interruptGroup(p.cmd); err != nil {
			slog.Debug("sensor interrupt failed", "source", b.cfg.Name, "error", err)
		}
		timer := time.NewTimer(grace)
		defer timer.Stop()
		select {
		case <-p.done:
		case <-timer.C:
			if err := killGroup(p.cmd); err != nil {
				slog.Warn("sensor kill failed", "source", b.cfg.Name, "error", err)
			}
		}
	}()
}

// stderrLogger forwards helper stderr to the debug log line by line. A
// partial line is flushed once it reaches maxStderrLine.
type stderrLogger struct {
	source string
	buf    []byte
}

func (w *stderrLogger) Write(p []byte) (int, error) {
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexByte(w.buf, '\n')
		switch {
		case i >= 0:
			w.log(w.buf[:i])
			w.buf = w.buf[i+1:]
		case len(w.buf) >= maxStderrLine:
			w.log(w.buf[:maxStderrLine])
			w.buf = w.buf[maxStderrLine:]
		default:
			w.buf = append(w.buf[:0:0], w.buf...)
			return len(p), nil
		}
	}
}

func (w *stderrLogger) log(line []byte) {
	if s := strings.TrimRight(string(line), "\r"); s != "" {
		slog.Debug("sensor stderr", "source", w.source, "line", s)
	}
}
