package scan

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/yairfalse/sweepr/pkg/resource"
	"github.com/yairfalse/sweepr/telemetry"
)

// DefaultBinary is the scanner executable looked up on PATH.
const DefaultBinary = "awsweeper"

// baseArgs request a non-destructive run with YAML output.
var baseArgs = []string{"--dry-run", "--output", "yaml"}

// ExitError describes a scanner run that did not succeed.
type ExitError struct {
	Binary string
	Code   int
	Stderr string
	Err    error
}

func (e *ExitError) Error() string {
	msg := fmt.Sprintf("%s: %s exited with code %d", ErrScannerFailed, e.Binary, e.Code)
	if stderr := strings.TrimSpace(e.Stderr); stderr != "" {
		msg += ": " + stderr
	}
	return msg
}

// Unwrap exposes ErrScannerFailed and the underlying process error.
func (e *ExitError) Unwrap() []error {
	if e.Err == nil {
		return []error{ErrScannerFailed}
	}
	return []error{ErrScannerFailed, e.Err}
}

// SweeperScanner runs awsweeper in dry-run mode and parses its listing.
type SweeperScanner struct {
	binary  string
	args    []string
	timeout time.Duration
	runner  Runner
	debug   bool
	logger  *telemetry.Logger
}

// NewSweeperScanner creates a scanner that appends args after the fixed
// dry-run/yaml arguments.
func NewSweeperScanner(binary string, args ...string) *SweeperScanner {
	if binary == "" {
		binary = DefaultBinary
	}
	return &SweeperScanner{
		binary: binary,
		args:   append([]string(nil), args...),
		runner: ExecRunner{},
		logger: telemetry.NewConsoleLogger("scanner"),
	}
}

// WithRunner replaces the process runner.
func (s *SweeperScanner) WithRunner(r Runner) *SweeperScanner {
	s.runner = r
	return s
}

// WithTimeout bounds the scanner run. Zero means no limit.
func (s *SweeperScanner) WithTimeout(d time.Duration) *SweeperScanner {
	s.timeout = d
	return s
}

// WithLogger sets the logger
func (s *SweeperScanner) WithLogger(l *telemetry.Logger) *SweeperScanner {
	s.logger = l
	return s
}

// WithDebugOutput logs the raw stdout and stderr of every run.
func (s *SweeperScanner) WithDebugOutput(enabled bool) *SweeperScanner {
	s.debug = enabled
	return s
}

// Name returns the binary name.
func (s *SweeperScanner) Name() string {
	return s.binary
}

// Args returns the full argument list passed to the binary.
func (s *SweeperScanner) Args() []string {
	return append(append([]string(nil), baseArgs...), s.args...)
}

// Scan runs the binary and parses stdout. Empty output is an empty listing.
func (s *SweeperScanner) Scan(ctx context.Context) ([]resource.Resource, error) {
	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	args := s.Args()
	start := time.Now()
	stdout, stderr, code, err := s.runner.Run(ctx, s.binary, args...)

	logger := s.logger.WithContext(ctx)
	logger.Debug().
		Str("binary", s.binary).
		Strs("args", args).
		Int("exit_code", code).
		Dur("duration", time.Since(start)).
		Msg("scanner finished")
	if s.debug {
		logger.Debug().Str("stdout", string(stdout)).Str("stderr", string(stderr)).Msg("scanner output")
	}

	if err != nil || code != 0 {
		return nil, &ExitError{Binary: s.binary, Code: code, Stderr: string(stderr), Err: err}
	}

	resources, err := resource.ParseList(stdout)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrMalformedOutput, s.binary, err)
	}
	return resources, nil
}
