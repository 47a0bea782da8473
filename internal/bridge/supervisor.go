package bridge

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// DefaultGracePeriod is how long a cancelled interpreter has to exit after
// the polite signal before it is killed.
const DefaultGracePeriod = 5 * time.Second

// Stream names passed to a Mirror.
const (
	StreamStdout = "stdout"
	StreamStderr = "stderr"
)

// Mirror receives raw output chunks as they arrive. Panics are recovered and
// the chunk is still captured.
type Mirror func(stream string, p []byte)

// StartError is returned when the interpreter process cannot be spawned.
type StartError struct {
	Path string
	Err  error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start interpreter %q: %v", e.Path, e.Err)
}

func (e *StartError) Unwrap() error {
	return e.Err
}

// StartOptions configures one supervised process.
type StartOptions struct {
	// Timeout forcibly terminates the process when exceeded. Zero disables it.
	Timeout time.Duration

	// GracePeriod separates the polite signal from the kill on Cancel.
	GracePeriod time.Duration

	// Env holds extra KEY=VALUE pairs appended after the invocation's own.
	Env []string

	// Mirror, when set, receives every output chunk.
	Mirror Mirror

	// OnStdoutLine, when set, is called once per complete stdout line.
	OnStdoutLine func(line string)

	// MaxCapture keeps only the last MaxCapture bytes of each stream in
	// Exit. Zero keeps everything. Mirror still sees every chunk.
	MaxCapture int
}

// maxPendingLine bounds a stdout line still waiting for its newline. Longer
// lines are dropped from line delivery only.
const maxPendingLine = 64 << 10

// Exit describes how a supervised process ended.
type Exit struct {
	// Code is the exit code, or -1 when the process was killed by a signal.
	Code int

	// Err holds a wait failure that is not a plain non-zero exit.
	Err error

	Stdout string
	Stderr string

	Duration time.Duration

	// Cancelled is set when Cancel or context cancellation ended the process.
	Cancelled bool

	// TimedOut is set when the timeout ended the process.
	TimedOut bool
	Timeout  time.Duration
}

// signalFunc delivers a termination signal. forced selects kill over the
// polite signal.
type signalFunc func(pid, pgid int, forced bool)

// Supervisor spawns interpreter processes and owns their lifetime.
type Supervisor struct {
	signal signalFunc
}

// NewSupervisor returns a supervisor using the platform's signal delivery.
func NewSupervisor() *Supervisor {
	return &Supervisor{signal: sendSignal}
}

// Process is one running interpreter.
type Process struct {
	cmd       *exec.Cmd
	pid       int
	pgid      int
	startedAt time.Time
	grace     time.Duration
	timeout   time.Duration
	signal    signalFunc

	stdout *stream
	stderr *stream

	// pipes are the read ends drained into stdout and stderr.
	pipes   []*os.File
	drained sync.WaitGroup

	done chan struct{}
	exit *Exit

	// exited is set as soon as the process is reaped, before its pipes
	// finish draining. A cancel counts only if it came first.
	stateMu   sync.Mutex
	exited    bool
	cancelled bool
	timedOut  atomic.Bool
}

// Start spawns inv. Cancelling ctx cancels the process the same way Cancel
// does. Start fails only when the process cannot be spawned.
func (s *Supervisor) Start(ctx context.Context, inv *Invocation, opts *StartOptions) (*Process, error) {
	if opts == nil {
		opts = &StartOptions{}
	}

	grace := opts.GracePeriod
	if grace <= 0 {
		grace = DefaultGracePeriod
	}

	signal := s.signal
	if signal == nil {
		signal = sendSignal
	}

	cmd := exec.Command(inv.Path, inv.Args...) //nolint:gosec // G204: invocation built by the encoder
	cmd.Dir = inv.Dir
	cmd.Env = append(baseEnv(), inv.Env...)
	cmd.Env = append(cmd.Env, opts.Env...)
	cmd.Stdin = bytes.NewReader(inv.Stdin)
	cmd.WaitDelay = grace

	p := &Process{
		cmd:     cmd,
		grace:   grace,
		timeout: opts.Timeout,
		signal:  signal,
		stdout:  newStream(StreamStdout, opts.Mirror, opts.OnStdoutLine, opts.MaxCapture),
		stderr:  newStream(StreamStderr, opts.Mirror, nil, opts.MaxCapture),
		done:    make(chan struct{}),
	}

	// Own the pipes so Wait returns at process exit rather than after the
	// output is drained.
	writers, err := p.openPipes()
	if err != nil {
		return nil, &StartError{Path: inv.Path, Err: err}
	}

	cmd.Stdout = writers[0]
	cmd.Stderr = writers[1]

	setProcessGroup(cmd)

	startErr := cmd.Start()

	for _, w := range writers {
		_ = w.Close()
	}

	if startErr != nil {
		p.closePipes()

		return nil, &StartError{Path: inv.Path, Err: startErr}
	}

	p.startedAt = time.Now()
	p.pid = cmd.Process.Pid
	p.pgid = processGroupID(p.pid)

	for i, r := range p.pipes {
		dst := []*stream{p.stdout, p.stderr}[i]

		p.drained.Add(1)

		go func() {
			defer p.drained.Done()

			_, _ = io.Copy(dst, r)
		}()
	}

	go p.wait()
	go p.watch(ctx)

	return p, nil
}

// baseEnv returns the host environment without a stale result channel path,
// so stdout-delivery jobs never inherit one.
func baseEnv() []string {
	env := os.Environ()
	out := env[:0:0]

	for _, kv := range env {
		if strings.HasPrefix(kv, ResultFileEnv+"=") {
			continue
		}

		out = append(out, kv)
	}

	return out
}

func (p *Process) openPipes() ([]*os.File, error) {
	var writers []*os.File

	for range 2 {
		r, w, err := os.Pipe()
		if err != nil {
			p.closePipes()

			for _, w := range writers {
				_ = w.Close()
			}

			return nil, err
		}

		p.pipes = append(p.pipes, r)
		writers = append(writers, w)
	}

	return writers, nil
}

func (p *Process) closePipes() {
	for _, r := range p.pipes {
		_ = r.Close()
	}
}

// drain waits for the output copies. A descendant that keeps a pipe open
// gets the grace period, then the pipes are closed under it.
func (p *Process) drain() {
	copied := make(chan struct{})

	go func() {
		p.drained.Wait()
		close(copied)
	}()

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-copied:
	case <-timer.C:
		p.closePipes()
		<-copied
	}

	p.closePipes()
}

func (p *Process) wait() {
	err := p.cmd.Wait()

	p.stateMu.Lock()
	p.exited = true
	cancelled := p.cancelled
	p.stateMu.Unlock()

	p.drain()

	p.stdout.flush()
	p.stderr.flush()

	exit := &Exit{
		Code:     -1,
		Stdout:   p.stdout.String(),
		Stderr:   p.stderr.String(),
		Duration: time.Since(p.startedAt),
		TimedOut: p.timedOut.Load(),
		Timeout:  p.timeout,
	}
	exit.Cancelled = cancelled && !exit.TimedOut

	if state := p.cmd.ProcessState; state != nil {
		exit.Code = state.ExitCode()
	}

	var exitErr *exec.ExitError
	if err != nil && !errors.As(err, &exitErr) {
		exit.Err = err
	}

	p.exit = exit
	close(p.done)
}

func (p *Process) watch(ctx context.Context) {
	var timeoutC <-chan time.Time

	if p.timeout > 0 {
		timer := time.NewTimer(p.timeout)
		defer timer.Stop()

		timeoutC = timer.C
	}

	select {
	case <-p.done:
	case <-ctx.Done():
		p.Cancel()
	case <-timeoutC:
		p.stateMu.Lock()
		defer p.stateMu.Unlock()

		if p.exited {
			return
		}

		p.timedOut.Store(true)
		p.signal(p.pid, p.pgid, true)
	}
}

// Cancel asks the process to stop, escalating to a kill after the grace
// period. It returns immediately. Calling it more than once, or after the
// process exited, has no effect.
func (p *Process) Cancel() {
	p.stateMu.Lock()
	defer p.stateMu.Unlock()

	if p.exited || p.cancelled {
		return
	}

	p.cancelled = true

	go p.terminate()
}

func (p *Process) terminate() {
	p.signal(p.pid, p.pgid, false)

	timer := time.NewTimer(p.grace)
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		p.signal(p.pid, p.pgid, true)
	}
}

// Done is closed once the process has exited and its output is captured.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Wait blocks until the process exits.
func (p *Process) Wait() *Exit {
	<-p.done

	return p.exit
}

// PID returns the interpreter's process ID.
func (p *Process) PID() int {
	return p.pid
}

// stream captures one output pipe, mirrors chunks and splits stdout lines.
type stream struct {
	name   string
	mirror Mirror
	onLine func(string)
	limit  int

	mu      sync.Mutex
	buf     bytes.Buffer
	pending []byte

	// skipping drops the rest of an overlong line.
	skipping bool
}

func newStream(name string, mirror Mirror, onLine func(string), limit int) *stream {
	return &stream{name: name, mirror: mirror, onLine: onLine, limit: max(limit, 0)}
}

func (s *stream) Write(p []byte) (int, error) {
	s.mu.Lock()
	s.buf.Write(p)

	if s.limit > 0 && s.buf.Len() > s.limit {
		s.buf.Next(s.buf.Len() - s.limit)
	}

	var lines []string

	if s.onLine != nil {
		lines = s.splitLines(p)
	}
	s.mu.Unlock()

	if s.mirror != nil {
		chunk := append([]byte(nil), p...)
		safeCall(func() { s.mirror(s.name, chunk) })
	}

	for _, line := range lines {
		safeCall(func() { s.onLine(line) })
	}

	return len(p), nil
}

func (s *stream) splitLines(p []byte) []string {
	var lines []string

	for len(p) > 0 {
		i := bytes.IndexByte(p, '\n')
		if i < 0 {
			if !s.skipping {
				s.pending = append(s.pending, p...)
			}

			if len(s.pending) > maxPendingLine {
				s.pending = nil
				s.skipping = true
			}

			break
		}

		if !s.skipping {
			line := append(s.pending, p[:i]...)
			lines = append(lines, strings.TrimSuffix(string(line), "\r"))
		}

		s.pending = nil
		s.skipping = false
		p = p[i+1:]
	}

	return lines
}

// flush delivers a trailing line that had no newline.
func (s *stream) flush() {
	s.mu.Lock()
	rest := string(s.pending)
	s.pending = nil
	s.mu.Unlock()

	if rest != "" && s.onLine != nil {
		safeCall(func() { s.onLine(rest) })
	}
}

func (s *stream) String() string {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.buf.String()
}

func safeCall(fn func()) {
	defer func() {
		_ = recover()
	}()

	fn()
}
