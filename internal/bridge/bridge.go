package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/musher-dev/bcbridge/internal/ansi"
	"github.com/musher-dev/bcbridge/internal/observability"
)

// sideChannelCapture bounds the output a side-channel job keeps in memory.
const sideChannelCapture = 256 << 10

// ErrBusy is returned by Run when another job is already in flight.
var ErrBusy = errors.New("a job is already running")

// State is the bridge's job slot state.
type State string

// Bridge states.
const (
	StateIdle    State = "idle"
	StateRunning State = "running"
)

// Journal receives one job's raw output and its final outcome.
type Journal interface {
	Append(stream string, p []byte) error
	Close(outcome string) error
}

// JournalOpener opens the journal for a new job.
type JournalOpener func(jobID string, op Operation, target TargetSelector) (Journal, error)

// Options configures a Bridge.
type Options struct {
	Encoder    Encoder
	Supervisor *Supervisor

	// Timeout overrides every profile's timeout when positive.
	Timeout     time.Duration
	GracePeriod time.Duration

	// ResultDir holds side-channel files. Empty means os.TempDir.
	ResultDir string

	// ResultRetries is how many extra reads a missing result file gets.
	// Zero reads it once; negative uses DefaultResultRetries.
	ResultRetries       int
	ResultRetryInterval time.Duration

	// Journals, when set, receives each job's raw output.
	Journals JournalOpener

	// OnProgress, when set, receives progress markers as they stream in.
	OnProgress func(Progress)
}

// RunningJob is a snapshot of the in-flight job.
type RunningJob struct {
	ID          string
	Operation   Operation
	Target      TargetSelector
	StartedAt   time.Time
	ChannelPath string
	PID         int
}

type activeJob struct {
	RunningJob

	process         *Process
	cancelRequested bool
}

// Bridge runs at most one interpreter job at a time.
type Bridge struct {
	opts Options

	mu      sync.Mutex
	current *activeJob
}

// New creates a Bridge. A nil Supervisor uses NewSupervisor.
func New(opts *Options) (*Bridge, error) {
	if opts == nil || opts.Encoder == nil {
		return nil, fmt.Errorf("bridge: encoder is required")
	}

	b := &Bridge{opts: *opts}
	if b.opts.Supervisor == nil {
		b.opts.Supervisor = NewSupervisor()
	}

	if b.opts.ResultRetries < 0 {
		b.opts.ResultRetries = DefaultResultRetries
	}

	return b, nil
}

// State reports whether a job is running.
func (b *Bridge) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		return StateRunning
	}

	return StateIdle
}

// Current returns a snapshot of the running job.
func (b *Bridge) Current() (RunningJob, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current == nil {
		return RunningJob{}, false
	}

	return b.current.RunningJob, true
}

// Cancel stops the running job. It returns false when nothing is running.
// Repeated calls have no further effect.
func (b *Bridge) Cancel() bool {
	b.mu.Lock()
	job := b.current

	var proc *Process

	if job != nil {
		job.cancelRequested = true
		proc = job.process
	}
	b.mu.Unlock()

	if job == nil {
		return false
	}

	if proc != nil {
		proc.Cancel()
	}

	return true
}

// Run executes req and waits for its result. The error return is reserved
// for requests the bridge refuses to start (ErrBusy, invalid requests,
// encoding failures); everything after that is reported in the result.
func (b *Bridge) Run(ctx context.Context, req *JobRequest) (*RawResult, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	profile, ok := ProfileFor(req.Operation)
	if !ok {
		return nil, fmt.Errorf("no profile for operation %q", req.Operation)
	}

	job, err := b.claim(req)
	if err != nil {
		return nil, err
	}
	defer b.release()

	logger := observability.Component(ctx, "bridge").With(
		slog.String("job.id", job.ID),
		slog.String("job.operation", string(req.Operation)),
	)

	ctx, span := observability.StartJobSpan(ctx, observability.JobAttrs{
		ID:        job.ID,
		Operation: string(req.Operation),
		Target:    req.Target.Name,
		Delivery:  string(profile.Delivery),
	})

	inv, err := b.opts.Encoder.Encode(req, profile, job.ID)
	if err != nil {
		span.End(string(OutcomeFailure), "encode", err)

		return nil, err
	}

	journal := b.openJournal(logger, job, req)

	var channel *ResultChannel

	startOpts := &StartOptions{
		Timeout:     b.timeoutFor(profile),
		GracePeriod: b.opts.GracePeriod,
		Mirror: func(stream string, p []byte) {
			if journal != nil {
				_ = journal.Append(stream, p)
			}
		},
		OnStdoutLine: b.progressHook(span),
	}

	if profile.Delivery == DeliverySideChannel {
		// Output is diagnostic only here; the journal keeps all of it.
		startOpts.MaxCapture = sideChannelCapture

		channel, err = NewResultChannel(b.opts.ResultDir)
		if err != nil {
			b.closeJournal(logger, journal, OutcomeFailure)
			span.End(string(OutcomeFailure), "result-channel", err)

			return nil, err
		}

		startOpts.Env = append(startOpts.Env, channel.Env())

		b.mu.Lock()
		job.ChannelPath = channel.Path()
		b.mu.Unlock()
	}

	logger.InfoContext(ctx, "job started",
		slog.String("event.type", "job.start"),
		slog.String("job.target", req.Target.Name),
		slog.String("job.delivery", string(profile.Delivery)),
		slog.Duration("job.timeout", startOpts.Timeout),
	)

	start := time.Now()

	proc, err := b.opts.Supervisor.Start(ctx, inv, startOpts)
	if err != nil {
		if channel != nil {
			b.logCleanup(logger, journal, channel.Discard())
		}

		result := Failed[json.RawMessage](&ErrorInfo{
			Kind:    KindProcessStart,
			Message: err.Error(),
		}, time.Since(start))

		b.finish(ctx, logger, span, journal, result)

		return result, nil
	}

	if b.attach(proc) {
		proc.Cancel()
	}

	exit := proc.Wait()

	var decoder Decoder = StdoutDecoder{}
	if channel != nil {
		decoder = &SideChannelDecoder{
			Channel:  channel,
			Retries:  b.opts.ResultRetries,
			Interval: b.opts.ResultRetryInterval,
			OnCleanupError: func(err error) {
				b.logCleanup(logger, journal, err)
			},
		}
	}

	result := decoder.Decode(context.WithoutCancel(ctx), exit)
	result.Elapsed = time.Since(start)
	maskError(result.Error, req.Credential)

	if exit.Err != nil {
		logger.Warn("interpreter wait failed", slog.String("event.type", "job.wait_error"), slog.String("error", exit.Err.Error()))
	}

	b.finish(ctx, logger, span, journal, result)

	return result, nil
}

func (b *Bridge) claim(req *JobRequest) (*activeJob, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.current != nil {
		return nil, ErrBusy
	}

	b.current = &activeJob{RunningJob: RunningJob{
		ID:        uuid.NewString(),
		Operation: req.Operation,
		Target:    req.Target,
		StartedAt: time.Now(),
	}}

	return b.current, nil
}

// attach records the process and reports whether a cancel arrived before it
// was available.
func (b *Bridge) attach(proc *Process) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.current.process = proc
	b.current.PID = proc.PID()

	return b.current.cancelRequested
}

func (b *Bridge) release() {
	b.mu.Lock()
	b.current = nil
	b.mu.Unlock()
}

func (b *Bridge) timeoutFor(profile *Profile) time.Duration {
	if b.opts.Timeout > 0 {
		return b.opts.Timeout
	}

	return profile.Timeout
}

// progressHook extracts progress markers from stdout lines, recording each
// on the job span before handing it to OnProgress.
func (b *Bridge) progressHook(span *observability.JobSpan) func(string) {
	return func(line string) {
		ExtractProgress(ansi.Strip(line), func(p Progress) {
			span.Progress(p.Activity, p.Status, p.PercentComplete)

			if b.opts.OnProgress != nil {
				b.opts.OnProgress(p)
			}
		})
	}
}

func (b *Bridge) openJournal(logger *slog.Logger, job *activeJob, req *JobRequest) Journal {
	if b.opts.Journals == nil {
		return nil
	}

	journal, err := b.opts.Journals(job.ID, req.Operation, req.Target)
	if err != nil {
		logger.Warn("diagnostics journal unavailable",
			slog.String("event.type", "job.journal_error"),
			slog.String("error", err.Error()),
		)

		return nil
	}

	if c := req.Credential; c != nil && c.Password != "" {
		return maskedJournal{Journal: journal, secret: []byte(c.Password.Reveal())}
	}

	return journal
}

// maskError replaces the job's password in error text taken from
// interpreter output.
func maskError(info *ErrorInfo, cred *Credential) {
	if info == nil || cred == nil || cred.Password == "" {
		return
	}

	secret := cred.Password.Reveal()
	info.Message = strings.ReplaceAll(info.Message, secret, redacted)
	info.Diagnostic = strings.ReplaceAll(info.Diagnostic, secret, redacted)
}

// maskedJournal stores mirrored output with the job's password replaced.
type maskedJournal struct {
	Journal

	secret []byte
}

func (m maskedJournal) Append(stream string, p []byte) error {
	return m.Journal.Append(stream, bytes.ReplaceAll(p, m.secret, []byte(redacted)))
}

func (b *Bridge) closeJournal(logger *slog.Logger, journal Journal, outcome Outcome) {
	if journal == nil {
		return
	}

	if err := journal.Close(string(outcome)); err != nil {
		logger.Warn("close diagnostics journal",
			slog.String("event.type", "job.journal_error"),
			slog.String("error", err.Error()),
		)
	}
}

func (b *Bridge) logCleanup(logger *slog.Logger, journal Journal, err error) {
	if err == nil {
		return
	}

	logger.Warn("result channel cleanup failed",
		slog.String("event.type", "job.cleanup_error"),
		slog.String("error", err.Error()),
	)

	if journal != nil {
		safeCall(func() { _ = journal.Append("bridge", []byte(err.Error()+"\n")) })
	}
}

func (b *Bridge) finish(ctx context.Context, logger *slog.Logger, span *observability.JobSpan, journal Journal, result *RawResult) {
	attrs := []any{
		slog.String("event.type", "job.finish"),
		slog.String("job.outcome", string(result.Outcome)),
		slog.Duration("job.elapsed", result.Elapsed),
	}

	switch result.Outcome {
	case OutcomeSuccess:
		logger.InfoContext(ctx, "job finished", attrs...)
		span.End(string(result.Outcome), "", nil)
	case OutcomeFailure:
		logger.WarnContext(ctx, "job failed", append(attrs,
			slog.String("error.kind", string(result.Error.Kind)),
			slog.String("error.message", result.Error.Message),
		)...)
		span.End(string(result.Outcome), string(result.Error.Kind), result.Error)
	case OutcomeCancelled:
		logger.InfoContext(ctx, "job cancelled", append(attrs,
			slog.String("cancel.kind", string(result.Cancellation.Kind)),
		)...)
		span.End(string(result.Outcome), string(result.Cancellation.Kind), nil)
	}

	b.closeJournal(logger, journal, result.Outcome)
}
