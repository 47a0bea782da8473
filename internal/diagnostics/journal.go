// Package diagnostics keeps the raw interpreter output of every job on disk.
//
// Each job gets its own directory holding a gzip JSONL event log, a plain
// JSONL live copy readable while the job runs, and meta.json. Stdin is never
// recorded, so a forwarded credential never reaches this store.
package diagnostics

import (
	"bufio"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/musher-dev/bcbridge/internal/paths"
)

const (
	defaultLines       = 2000
	eventsFileName     = "events.jsonl.gz"
	eventsLiveFileName = "events.live.jsonl"
	metaFileName       = "meta.json"
)

// Event is one captured output chunk.
type Event struct {
	JobID     string    `json:"jobId"`
	Seq       uint64    `json:"seq"`
	TS        time.Time `json:"ts"`
	Stream    string    `json:"stream"`
	RawBase64 string    `json:"rawBase64"`
	Text      string    `json:"text,omitempty"`
}

// Meta stores job metadata for discovery and pruning.
type Meta struct {
	JobID      string     `json:"jobId"`
	Operation  string     `json:"operation"`
	Target     string     `json:"target,omitempty"`
	StartedAt  time.Time  `json:"startedAt"`
	FinishedAt *time.Time `json:"finishedAt,omitempty"`
	Outcome    string     `json:"outcome,omitempty"`
}

// Sink opens journals under one root directory.
type Sink struct {
	Dir      string
	MaxLines int
}

// NewSink returns a sink rooted at dir, or the default history directory
// when dir is empty.
func NewSink(dir string, maxLines int) (*Sink, error) {
	if dir == "" {
		var err error

		dir, err = paths.HistoryDir()
		if err != nil {
			return nil, fmt.Errorf("resolve history directory: %w", err)
		}
	}

	return &Sink{Dir: dir, MaxLines: maxLines}, nil
}

// Open creates the journal for one job.
func (s *Sink) Open(jobID, operation, target string) (*Journal, error) {
	return openJournal(s.Dir, s.MaxLines, &Meta{
		JobID:     jobID,
		Operation: operation,
		Target:    target,
		StartedAt: time.Now().UTC(),
	})
}

// Journal writes one job's output to compressed and live JSONL files and
// keeps the most recent lines in memory.
type Journal struct {
	mu sync.Mutex

	meta     Meta
	dir      string
	maxLines int
	seq      uint64

	file     *os.File
	gz       *gzip.Writer
	bw       *bufio.Writer
	liveFile *os.File
	liveBW   *bufio.Writer

	lines       []string
	lineStart   int
	lineCount   int
	partialLine string
	closed      bool
}

func openJournal(root string, maxLines int, meta *Meta) (*Journal, error) {
	if err := validateJobID(meta.JobID); err != nil {
		return nil, err
	}

	if maxLines <= 0 {
		maxLines = defaultLines
	}

	jobDir := filepath.Join(root, meta.JobID)
	if err := os.MkdirAll(jobDir, 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(jobDir, eventsFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // jobDir/jobID are validated and controlled
	if err != nil {
		return nil, fmt.Errorf("open journal events: %w", err)
	}

	liveFile, err := os.OpenFile(filepath.Join(jobDir, eventsLiveFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600) //nolint:gosec // jobDir/jobID are validated and controlled
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("open live journal events: %w", err)
	}

	gz := gzip.NewWriter(f)

	j := &Journal{
		meta:     *meta,
		dir:      jobDir,
		maxLines: maxLines,
		file:     f,
		gz:       gz,
		bw:       bufio.NewWriterSize(gz, 64*1024),
		liveFile: liveFile,
		liveBW:   bufio.NewWriterSize(liveFile, 64*1024),
		lines:    make([]string, maxLines),
	}

	if err := j.writeMeta(); err != nil {
		_ = j.Close("")
		return nil, err
	}

	return j, nil
}

func (j *Journal) writeMeta() error {
	data, err := json.Marshal(&j.meta)
	if err != nil {
		return fmt.Errorf("marshal journal meta: %w", err)
	}

	if err := os.WriteFile(filepath.Join(j.dir, metaFileName), data, 0o600); err != nil {
		return fmt.Errorf("write journal meta: %w", err)
	}

	return nil
}

// JobID returns the journal's job id.
func (j *Journal) JobID() string {
	return j.meta.JobID
}

// Append writes one chunk. It is safe for concurrent use.
func (j *Journal) Append(stream string, chunk []byte) error {
	if len(chunk) == 0 {
		return nil
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return errors.New("journal is closed")
	}

	text := string(chunk)
	j.seq++
	ev := Event{
		JobID:     j.meta.JobID,
		Seq:       j.seq,
		TS:        time.Now().UTC(),
		Stream:    stream,
		RawBase64: base64.StdEncoding.EncodeToString(chunk),
		Text:      text,
	}

	line, err := json.Marshal(&ev)
	if err != nil {
		return fmt.Errorf("marshal journal event: %w", err)
	}

	line = append(line, '\n')
	if _, err := j.bw.Write(line); err != nil {
		return fmt.Errorf("encode journal event: %w", err)
	}

	if _, err := j.liveBW.Write(line); err != nil {
		return fmt.Errorf("encode live journal event: %w", err)
	}

	if err := j.liveBW.Flush(); err != nil {
		return fmt.Errorf("flush live journal event: %w", err)
	}

	j.appendLinesLocked(text)

	return nil
}

func (j *Journal) appendLinesLocked(text string) {
	parts := strings.Split(j.partialLine+text, "\n")

	for i := 0; i < len(parts)-1; i++ {
		j.pushLineLocked(strings.TrimRight(parts[i], "\r"))
	}

	j.partialLine = parts[len(parts)-1]
}

func (j *Journal) pushLineLocked(line string) {
	if j.lineCount < j.maxLines {
		idx := (j.lineStart + j.lineCount) % j.maxLines
		j.lines[idx] = line
		j.lineCount++

		return
	}

	j.lines[j.lineStart] = line
	j.lineStart = (j.lineStart + 1) % j.maxLines
}

// Tail returns the most recent lines in chronological order.
func (j *Journal) Tail() []string {
	j.mu.Lock()
	defer j.mu.Unlock()

	out := make([]string, 0, j.lineCount+1)
	for i := 0; i < j.lineCount; i++ {
		out = append(out, j.lines[(j.lineStart+i)%j.maxLines])
	}

	if j.partialLine != "" {
		out = append(out, j.partialLine)
	}

	return out
}

// Close records the outcome, flushes and closes the journal. Later calls
// are no-ops.
func (j *Journal) Close(outcome string) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return nil
	}

	j.closed = true

	now := time.Now().UTC()
	j.meta.FinishedAt = &now
	j.meta.Outcome = outcome

	var errs []error

	for _, flush := range []func() error{j.bw.Flush, j.liveBW.Flush, j.gz.Close, j.file.Close, j.liveFile.Close} {
		if err := flush(); err != nil {
			errs = append(errs, err)
		}
	}

	// Readers treat FinishedAt as "events.jsonl.gz is complete".
	if err := j.writeMeta(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

func validateJobID(jobID string) error {
	if jobID == "" {
		return errors.New("job id is required")
	}

	if jobID != filepath.Base(jobID) || strings.Contains(jobID, "..") || strings.ContainsAny(jobID, `/\`) {
		return errors.New("invalid job id")
	}

	return nil
}
