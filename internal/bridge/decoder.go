package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/musher-dev/bcbridge/internal/ansi"
)

// Result read retry defaults.
const (
	DefaultResultRetries       = 10
	DefaultResultRetryInterval = 200 * time.Millisecond
)

// Decoder turns a finished process into a RawResult. Decoders never return
// errors; every failure is expressed as a failure result.
type Decoder interface {
	Decode(ctx context.Context, exit *Exit) *RawResult
}

// resultDocument is the JSON shape the interpreter writes.
type resultDocument struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`

	Error      string `json:"error"`
	ErrorKind  string `json:"errorKind"`
	Diagnostic string `json:"diagnostic"`

	Type                  string `json:"type"`
	StackTrace            string `json:"stackTrace"`
	TargetObject          string `json:"targetObject"`
	FullyQualifiedErrorID string `json:"fullyQualifiedErrorId"`
}

// ParseDocument decodes one result document.
func ParseDocument(raw []byte, elapsed time.Duration) *RawResult {
	var doc resultDocument
	if err := json.Unmarshal(raw, &doc); err != nil {
		return Failed[json.RawMessage](&ErrorInfo{
			Kind:       KindMalformedResult,
			Message:    fmt.Sprintf("result document is not valid JSON: %v", err),
			Diagnostic: leadFragment(raw),
		}, elapsed)
	}

	if doc.Success == nil {
		return Failed[json.RawMessage](&ErrorInfo{
			Kind:       KindMalformedResult,
			Message:    "result document has no success field",
			Diagnostic: leadFragment(raw),
		}, elapsed)
	}

	if *doc.Success {
		return Succeeded(doc.Data, elapsed)
	}

	kind, ok := ParseErrorKind(doc.ErrorKind)
	if !ok {
		kind = KindInterpreterError
	}

	message := doc.Error
	if message == "" {
		message = "interpreter reported failure without a message"
	}

	return Failed[json.RawMessage](&ErrorInfo{
		Kind:       kind,
		Message:    message,
		Diagnostic: doc.diagnostic(),
	}, elapsed)
}

func (d *resultDocument) diagnostic() string {
	if d.Diagnostic != "" {
		return d.Diagnostic
	}

	var b strings.Builder

	for _, field := range []struct{ label, value string }{
		{"type", d.Type},
		{"error id", d.FullyQualifiedErrorID},
		{"target", d.TargetObject},
		{"stack trace", d.StackTrace},
	} {
		if field.value == "" {
			continue
		}

		if b.Len() > 0 {
			b.WriteByte('\n')
		}

		b.WriteString(field.label)
		b.WriteString(": ")
		b.WriteString(field.value)
	}

	return b.String()
}

// cancellationFor reports the cancellation of exit, or nil if it ran to completion.
func cancellationFor(exit *Exit) *Cancellation {
	switch {
	case exit.TimedOut:
		return &Cancellation{
			Kind:    KindTimeout,
			Message: fmt.Sprintf("job timed out after %s", exit.Timeout),
			Timeout: exit.Timeout,
		}
	case exit.Cancelled:
		return &Cancellation{Kind: KindCancelled, Message: "job cancelled"}
	default:
		return nil
	}
}

// SideChannelDecoder reads the result document from a ResultChannel.
type SideChannelDecoder struct {
	Channel *ResultChannel

	// Retries bounds how many extra reads are attempted when the file has not
	// appeared yet. Interval is the fixed wait between reads.
	Retries  int
	Interval time.Duration

	// OnCleanupError receives temp-file deletion failures.
	OnCleanupError func(error)
}

// Decode implements Decoder.
func (d *SideChannelDecoder) Decode(ctx context.Context, exit *Exit) *RawResult {
	if c := cancellationFor(exit); c != nil {
		d.cleanup(d.Channel.Discard())

		return Cancelled[json.RawMessage](c, exit.Duration)
	}

	raw, err := d.read(ctx)
	if err != nil {
		d.cleanup(d.Channel.Discard())

		return Failed[json.RawMessage](&ErrorInfo{
			Kind:       KindMalformedResult,
			Message:    fmt.Sprintf("interpreter exited with code %d without writing a result", exit.Code),
			Diagnostic: leadFragment([]byte(strings.TrimSpace(exit.Stderr))),
		}, exit.Duration)
	}

	// A rename can leave a stale partial behind on some filesystems.
	d.cleanup(d.Channel.Discard())

	return ParseDocument(raw, exit.Duration)
}

func (d *SideChannelDecoder) read(ctx context.Context) ([]byte, error) {
	retries := d.Retries
	if retries < 0 {
		retries = 0
	}

	interval := d.Interval
	if interval <= 0 {
		interval = DefaultResultRetryInterval
	}

	op := func() ([]byte, error) {
		data, err := d.Channel.Read()

		var cleanupErr *cleanupError

		switch {
		case err == nil:
			return data, nil
		case errors.As(err, &cleanupErr):
			d.cleanup(err)

			return data, nil
		case errors.Is(err, fs.ErrNotExist):
			return nil, err
		default:
			return nil, backoff.Permanent(err)
		}
	}

	return backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(interval)),
		backoff.WithMaxTries(uint(retries)+1),
	)
}

func (d *SideChannelDecoder) cleanup(err error) {
	if err != nil && d.OnCleanupError != nil {
		d.OnCleanupError(err)
	}
}

// StdoutDecoder extracts the result document from captured stdout.
type StdoutDecoder struct{}

// Decode implements Decoder.
func (StdoutDecoder) Decode(_ context.Context, exit *Exit) *RawResult {
	if c := cancellationFor(exit); c != nil {
		return Cancelled[json.RawMessage](c, exit.Duration)
	}

	dm := Demux(exit.Stdout, nil)
	if dm.Result != nil {
		return ParseDocument(dm.Result, exit.Duration)
	}

	text := strings.TrimSpace(dm.Text)

	if exit.Code != 0 {
		message := strings.TrimSpace(stderrTail(exit.Stderr))
		if message == "" {
			message = fmt.Sprintf("interpreter exited with code %d", exit.Code)
		}

		return Failed[json.RawMessage](&ErrorInfo{
			Kind:       KindNonZeroExit,
			Message:    message,
			Diagnostic: leadFragment([]byte(text)),
		}, exit.Duration)
	}

	return Failed[json.RawMessage](&ErrorInfo{
		Kind:       KindMalformedResult,
		Message:    "no result object found in interpreter output",
		Diagnostic: leadFragment([]byte(text)),
	}, exit.Duration)
}

const stderrTailLen = 2048

// stderrTail cleans stderr and keeps its last part, where the error is.
func stderrTail(s string) string {
	s = dropDiagnosticLines(ansi.Strip(s))
	if len(s) <= stderrTailLen {
		return s
	}

	return "..." + s[len(s)-stderrTailLen:]
}
