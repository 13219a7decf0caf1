// Package legacy runs the external converter that turns proprietary
// microscopy containers into OME-Zarr, and implements the read-only
// "bioformats" backend on top of it.
package legacy

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"

	"github.com/simonhull/bfio/internal/types"
)

// DefaultExecutable is looked up on PATH when no executable is configured.
const DefaultExecutable = "bioformats2raw"

// Config selects and tunes the converter.
type Config struct {
	Logger *slog.Logger
	// Executable is a path or a name resolved on PATH.
	Executable string
	// Args are passed before the source and destination paths.
	Args []string
}

// Bridge is a started converter. It is safe for concurrent use.
type Bridge struct {
	log     *slog.Logger
	path    string
	version string
	args    []string
}

var (
	mu     sync.Mutex
	shared *Bridge
)

// Acquire starts the process-wide bridge on first use and returns it. Later
// calls return the running bridge and ignore cfg. A failed start is not
// cached, so a corrected configuration can be retried.
func Acquire(ctx context.Context, cfg Config) (*Bridge, error) {
	mu.Lock()
	defer mu.Unlock()
	if shared != nil {
		return shared, nil
	}
	b, err := start(ctx, cfg)
	if err != nil {
		return nil, err
	}
	shared = b
	return b, nil
}

// Current returns the running bridge, or nil before Acquire succeeds.
func Current() *Bridge {
	mu.Lock()
	defer mu.Unlock()
	return shared
}

func start(ctx context.Context, cfg Config) (*Bridge, error) {
	log := cfg.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	name := cfg.Executable
	if name == "" {
		name = DefaultExecutable
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", types.ErrUnavailable, name, err)
	}

	out, err := exec.CommandContext(ctx, path, "--version").Output()
	if err != nil {
		return nil, fmt.Errorf("%w: %s --version: %v", types.ErrUnavailable, path, err)
	}
	b := &Bridge{
		log:     log,
		path:    path,
		version: parseVersion(out),
		args:    append([]string(nil), cfg.Args...),
	}
	log.Info("legacy bridge started", "executable", path, "version", b.version)
	return b, nil
}

// parseVersion prefers the reader library version line and falls back to
// the first line of output.
func parseVersion(out []byte) string {
	var first string
	sc := bufio.NewScanner(bytes.NewReader(out))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if first == "" {
			first = line
		}
		if k, v, ok := strings.Cut(line, "="); ok && strings.EqualFold(strings.TrimSpace(k), "Bio-Formats version") {
			return strings.TrimSpace(v)
		}
	}
	return first
}

// Version is the converter's reader library version.
func (b *Bridge) Version() string { return b.version }

// Executable is the resolved converter path.
func (b *Bridge) Executable() string { return b.path }

// Convert writes an OME-Zarr copy of src into dst, which must not exist.
func (b *Bridge) Convert(ctx context.Context, src, dst string) error {
	args := append(append([]string(nil), b.args...), src, dst)
	cmd := exec.CommandContext(ctx, b.path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	b.log.Debug("converting legacy image", "src", src, "dst", dst)
	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && msg != "" {
			err = fmt.Errorf("%w: %s", err, lastLine(msg))
		}
		return &types.StorageError{Path: src, Op: "convert", Err: err}
	}
	return nil
}

func lastLine(s string) string {
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		return s[i+1:]
	}
	return s
}
