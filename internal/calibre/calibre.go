// Package calibre wraps the calibre ebook-meta command line tool for
// metadata extraction and in-place metadata writes.
package calibre

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"time"

	"ogreclient/internal/ebook"
	"ogreclient/internal/services"
)

// DefaultTimeout bounds a single ebook-meta invocation.
const DefaultTimeout = 60 * time.Second

// Client runs ebook-meta against library files.
type Client struct {
	binary  string
	timeout time.Duration
}

// NewClient builds a client for the given binary path. An empty path falls
// back to platform discovery; a non-positive timeout falls back to
// DefaultTimeout.
func NewClient(binary string, timeout time.Duration) (*Client, error) {
	if binary == "" {
		found, err := Locate()
		if err != nil {
			return nil, err
		}
		binary = found
	}
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{binary: binary, timeout: timeout}, nil
}

// Binary returns the resolved ebook-meta path.
func (c *Client) Binary() string {
	return c.binary
}

// Locate finds the ebook-meta binary for the current platform. macOS installs
// calibre as an app bundle outside PATH.
func Locate() (string, error) {
	if runtime.GOOS == "darwin" {
		bundled := "/Applications/calibre.app/Contents/MacOS/ebook-meta"
		if _, err := os.Stat(bundled); err == nil {
			return bundled, nil
		}
	}
	path, err := exec.LookPath("ebook-meta")
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "preflight", "locate", "ebook-meta not found; install calibre", err)
	}
	return path, nil
}

// ExtractMeta reads the file's metadata block. A stack trace on stderr means
// calibre could not parse the file at all, which we treat as corrupt.
func (c *Client) ExtractMeta(ctx context.Context, path string) (string, error) {
	stdout, stderr, err := c.run(ctx, path)
	if strings.Contains(stderr, "Traceback") {
		return "", &ebook.CorruptEbookError{Path: path, Msg: "ebook-meta could not read file"}
	}
	if err != nil {
		return "", services.Wrap(services.ErrExternalTool, "scan", "extract_meta",
			fmt.Sprintf("ebook-meta failed for %s", path), err)
	}
	return stdout, nil
}

// WriteTags replaces the file's tag list.
func (c *Client) WriteTags(ctx context.Context, path, tags string) error {
	return c.write(ctx, path, "--tags="+tags)
}

// WriteIdentifier sets one scheme:value identifier on the file. Only formats
// with identifier support (epub) should use this; others embed ids in tags.
func (c *Client) WriteIdentifier(ctx context.Context, path, scheme, value string) error {
	return c.write(ctx, path, fmt.Sprintf("--identifier=%s:%s", scheme, value))
}

func (c *Client) write(ctx context.Context, path, arg string) error {
	_, stderr, err := c.run(ctx, path, arg)
	if err != nil {
		return services.Wrap(services.ErrExternalTool, "sync", "write_meta",
			fmt.Sprintf("ebook-meta write failed for %s: %s", path, strings.TrimSpace(stderr)), err)
	}
	return nil
}

func (c *Client) run(ctx context.Context, path string, args ...string) (string, string, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, c.binary, append([]string{path}, args...)...) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.String(), stderr.String(), err
}
