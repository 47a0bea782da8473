package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// errChannelConsumed is returned when a channel is read a second time.
var errChannelConsumed = errors.New("result channel already consumed")

// ResultChannel is the per-job side-channel file. The path is chosen before
// spawn, written at most once by the interpreter, read once, then deleted.
type ResultChannel struct {
	path string

	mu       sync.Mutex
	consumed bool
}

// NewResultChannel chooses a unique path under dir (os.TempDir when empty).
// The file itself is not created; its appearance signals a finished write.
func NewResultChannel(dir string) (*ResultChannel, error) {
	if strings.TrimSpace(dir) == "" {
		dir = os.TempDir()
	} else if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("create result directory: %w", err)
	}

	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:12]
	name := fmt.Sprintf("bcbridge-%d-%d-%s.json", os.Getpid(), time.Now().UnixNano(), suffix)

	return &ResultChannel{path: filepath.Join(dir, name)}, nil
}

// Path returns the channel's file path.
func (c *ResultChannel) Path() string {
	return c.path
}

// Env returns the KEY=VALUE pair that hands the path to the interpreter.
func (c *ResultChannel) Env() string {
	return ResultFileEnv + "=" + c.path
}

// Read returns the document and deletes the file. A missing file yields an
// error matching fs.ErrNotExist and leaves the channel readable.
func (c *ResultChannel) Read() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.consumed {
		return nil, errChannelConsumed
	}

	data, err := os.ReadFile(c.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}

		return nil, fmt.Errorf("read result channel: %w", err)
	}

	c.consumed = true

	if rmErr := os.Remove(c.path); rmErr != nil && !errors.Is(rmErr, fs.ErrNotExist) {
		return data, &cleanupError{err: rmErr}
	}

	return data, nil
}

// Discard marks the channel consumed and removes the file and any partial
// write. Missing files are not an error.
func (c *ResultChannel) Discard() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.consumed = true

	var errs []error

	for _, p := range []string{c.path, c.path + partialSuffix} {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return &cleanupError{err: errors.Join(errs...)}
	}

	return nil
}

// cleanupError marks failures to delete a temporary file. They are logged
// and otherwise ignored.
type cleanupError struct {
	err error
}

func (e *cleanupError) Error() string {
	return "remove result channel: " + e.err.Error()
}

func (e *cleanupError) Unwrap() error {
	return e.err
}
