// Package dedrm drives the external DRM-removal tool and interprets its
// per-file outcome, with a circuit breaker for stale key material.
package dedrm

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
)

// Outcome is the decrypt tool's result for one file.
type Outcome int

const (
	// OutcomeNone means the file carried no DRM.
	OutcomeNone Outcome = iota
	// OutcomeDecrypted means a DRM-free copy was written.
	OutcomeDecrypted
	// OutcomeWrongKey means the key material did not match the file.
	OutcomeWrongKey
	// OutcomeCorrupt means the tool could not parse the file.
	OutcomeCorrupt
	// OutcomeUnsupported means the format cannot be decrypted (e.g. KFX).
	OutcomeUnsupported
	// OutcomeUnknown covers any unrecognized tool response.
	OutcomeUnknown
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNone:
		return "none"
	case OutcomeDecrypted:
		return "decrypted"
	case OutcomeWrongKey:
		return "wrong_key"
	case OutcomeCorrupt:
		return "corrupt"
	case OutcomeUnsupported:
		return "unsupported"
	default:
		return "unknown"
	}
}

// Result is one decrypt attempt's outcome. OutputPath is set only for
// OutcomeDecrypted.
type Result struct {
	Outcome    Outcome
	OutputPath string
	Detail     string
}

// Decryptor attempts DRM removal for a single file.
type Decryptor interface {
	Decrypt(ctx context.Context, path, outDir string) (Result, error)
}

// DefaultTimeout bounds a single decrypt invocation.
const DefaultTimeout = 120 * time.Second

// ToolDecryptor shells out to the configured decrypt tool. The tool writes
// its verdict as the first stdout line: "decrypted <path>", "none",
// "wrong_key", "corrupt" or "unsupported".
type ToolDecryptor struct {
	binary  string
	keyDir  string
	timeout time.Duration
}

// NewToolDecryptor builds the exec-backed decryptor. keyDir is passed to the
// tool so it can find kindlekey/adept key files.
func NewToolDecryptor(binary, keyDir string, timeout time.Duration) *ToolDecryptor {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &ToolDecryptor{binary: binary, keyDir: keyDir, timeout: timeout}
}

func (d *ToolDecryptor) Decrypt(ctx context.Context, path, outDir string) (Result, error) {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.binary, "--keys", d.keyDir, "--out", outDir, path) //nolint:gosec
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	runErr := cmd.Run()

	verdict := firstLine(stdout.String())
	result := parseVerdict(verdict)
	if result.Outcome == OutcomeUnknown {
		detail := strings.TrimSpace(stderr.String())
		if detail == "" {
			detail = verdict
		}
		result.Detail = detail
		if runErr != nil {
			return result, fmt.Errorf("decrypt tool failed for %s: %w", path, runErr)
		}
	}
	return result, nil
}

// KeyExtractor regenerates key material from the vendor apps installed on
// this host. Implemented by decryptors whose tool supports it.
type KeyExtractor interface {
	ExtractKeys(ctx context.Context, keyDir string) error
}

// ExtractKeys asks the tool to dump fresh kindle/adept keys into keyDir.
func (d *ToolDecryptor) ExtractKeys(ctx context.Context, keyDir string) error {
	runCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, d.binary, "--extract-keys", "--keys", keyDir) //nolint:gosec
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		detail := strings.TrimSpace(stderr.String())
		if detail != "" {
			return fmt.Errorf("key extraction failed: %s: %w", detail, err)
		}
		return fmt.Errorf("key extraction failed: %w", err)
	}
	return nil
}

func parseVerdict(line string) Result {
	verb, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(verb) {
	case "none":
		return Result{Outcome: OutcomeNone}
	case "decrypted":
		return Result{Outcome: OutcomeDecrypted, OutputPath: strings.TrimSpace(rest)}
	case "wrong_key":
		return Result{Outcome: OutcomeWrongKey}
	case "corrupt":
		return Result{Outcome: OutcomeCorrupt}
	case "unsupported":
		return Result{Outcome: OutcomeUnsupported}
	default:
		return Result{Outcome: OutcomeUnknown}
	}
}

func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx > -1 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
