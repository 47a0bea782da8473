package diagnostics

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"
)

// ErrJobNotFound is returned when no journal exists for a job id.
var ErrJobNotFound = errors.New("no journal for job")

// ErrAmbiguousID is returned by Find when a prefix matches several jobs.
var ErrAmbiguousID = errors.New("job id prefix is ambiguous")

// maxEventLine bounds one JSONL record; chunks are far smaller.
const maxEventLine = 4 << 20

// Entry describes one stored journal.
type Entry struct {
	Meta

	Path string `json:"path"`
}

// Finished reports whether the job closed its journal.
func (e *Entry) Finished() bool {
	return e.FinishedAt != nil
}

// List returns journals sorted by newest start time first. Directories
// without readable metadata are skipped.
func (s *Sink) List() ([]Entry, error) {
	dirs, err := os.ReadDir(s.Dir)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list journals: %w", err)
	}

	var entries []Entry

	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}

		dir := filepath.Join(s.Dir, d.Name())
		if meta, err := readMeta(dir); err == nil {
			entries = append(entries, Entry{Meta: *meta, Path: dir})
		}
	}

	slices.SortFunc(entries, func(a, b Entry) int {
		return b.StartedAt.Compare(a.StartedAt)
	})

	return entries, nil
}

// Find resolves a job id or a unique id prefix to its entry.
func (s *Sink) Find(idOrPrefix string) (*Entry, error) {
	entries, err := s.List()
	if err != nil {
		return nil, err
	}

	if i := slices.IndexFunc(entries, func(e Entry) bool { return e.JobID == idOrPrefix }); i >= 0 {
		return &entries[i], nil
	}

	var matches []*Entry

	for i := range entries {
		if idOrPrefix != "" && strings.HasPrefix(entries[i].JobID, idOrPrefix) {
			matches = append(matches, &entries[i])
		}
	}

	switch len(matches) {
	case 0:
		return nil, fmt.Errorf("%w %q", ErrJobNotFound, idOrPrefix)
	case 1:
		return matches[0], nil
	default:
		return nil, fmt.Errorf("%w: %q matches %d jobs", ErrAmbiguousID, idOrPrefix, len(matches))
	}
}

func readMeta(dir string) (*Meta, error) {
	data, err := os.ReadFile(filepath.Join(dir, metaFileName)) //nolint:gosec // controlled directory
	if err != nil {
		return nil, err
	}

	var meta Meta
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, err
	}

	return &meta, nil
}

// ReadEvents reads every event of a job. A journal that never closed is read
// from its live file.
func (s *Sink) ReadEvents(jobID string) ([]Event, error) {
	if err := validateJobID(jobID); err != nil {
		return nil, err
	}

	jobDir := filepath.Join(s.Dir, jobID)
	if _, err := os.Stat(jobDir); err != nil {
		return nil, fmt.Errorf("%w %q", ErrJobNotFound, jobID)
	}

	if meta, err := readMeta(jobDir); err != nil || meta.FinishedAt == nil {
		events, _, err := s.ReadLiveEventsFrom(jobID, 0)
		return events, err
	}

	return readCompressed(filepath.Join(jobDir, eventsFileName))
}

func readCompressed(path string) (events []Event, err error) {
	file, err := os.Open(path) //nolint:gosec // controlled path
	if err != nil {
		return nil, fmt.Errorf("open journal events: %w", err)
	}
	defer closeInto(file, &err)

	zr, err := gzip.NewReader(file)
	if err != nil {
		return nil, fmt.Errorf("create gzip reader: %w", err)
	}
	defer closeInto(zr, &err)

	scanner := bufio.NewScanner(zr)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventLine)

	for scanner.Scan() {
		if ev, ok := decodeEvent(scanner.Bytes()); ok {
			events = append(events, ev)
		}
	}

	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan journal events: %w", err)
	}

	return events, nil
}

// decodeEvent parses one JSONL record. Blank and corrupt lines are skipped.
func decodeEvent(line []byte) (Event, bool) {
	var ev Event

	line = bytes.TrimSpace(line)
	if len(line) == 0 || json.Unmarshal(line, &ev) != nil {
		return Event{}, false
	}

	return ev, true
}

func closeInto(c io.Closer, err *error) {
	if closeErr := c.Close(); closeErr != nil && *err == nil {
		*err = closeErr
	}
}

// ReadLiveEventsFrom reads live events from a byte offset in the append-only
// JSONL file and returns the offset to resume from. An unterminated last
// line is left for the next call.
func (s *Sink) ReadLiveEventsFrom(jobID string, offset int64) (events []Event, next int64, err error) {
	if err := validateJobID(jobID); err != nil {
		return nil, offset, err
	}

	if offset < 0 {
		return nil, offset, errors.New("offset must be >= 0")
	}

	file, err := os.Open(filepath.Join(s.Dir, jobID, eventsLiveFileName)) //nolint:gosec // controlled path
	if errors.Is(err, fs.ErrNotExist) {
		return nil, offset, nil
	}

	if err != nil {
		return nil, offset, fmt.Errorf("open live journal events: %w", err)
	}
	defer closeInto(file, &err)

	info, err := file.Stat()
	if err != nil {
		return nil, offset, fmt.Errorf("read live journal file info: %w", err)
	}

	offset = min(offset, info.Size())

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, offset, fmt.Errorf("seek live journal file: %w", err)
	}

	reader := bufio.NewReaderSize(file, 64<<10)
	next = offset

	for {
		line, readErr := reader.ReadBytes('\n')
		if len(line) == 0 || line[len(line)-1] != '\n' {
			if readErr != nil && !errors.Is(readErr, io.EOF) {
				return events, next, fmt.Errorf("read live journal line: %w", readErr)
			}

			return events, next, nil
		}

		next += int64(len(line))

		if ev, ok := decodeEvent(line); ok {
			events = append(events, ev)
		}
	}
}

// Follow streams a running job's events to emit, polling every interval,
// until the journal closes or ctx ends. Events written between the last
// poll and the close are still delivered.
func (s *Sink) Follow(ctx context.Context, jobID string, interval time.Duration, emit func([]Event)) error {
	var offset int64

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		events, next, err := s.ReadLiveEventsFrom(jobID, offset)
		if err != nil {
			return err
		}

		offset = next
		emit(events)

		if entry, err := s.Find(jobID); err == nil && entry.Finished() {
			rest, _, err := s.ReadLiveEventsFrom(jobID, offset)
			emit(rest)

			return err
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// PruneOlderThan removes journals that finished (or started, if unfinished)
// before cutoff.
func (s *Sink) PruneOlderThan(cutoff time.Time) (int, error) {
	entries, err := s.List()
	if err != nil {
		return 0, err
	}

	removed := 0

	for _, entry := range entries {
		reference := entry.StartedAt
		if entry.Finished() {
			reference = *entry.FinishedAt
		}

		if !reference.Before(cutoff) {
			continue
		}

		if err := os.RemoveAll(entry.Path); err != nil {
			return removed, fmt.Errorf("prune journal %q: %w", entry.JobID, err)
		}

		removed++
	}

	return removed, nil
}
