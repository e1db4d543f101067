package executor

import (
	"fmt"
	"strings"

	"github.com/jkaninda/kazi/internal/domain"
	"github.com/jkaninda/kazi/internal/executil"
	"github.com/jkaninda/kazi/internal/runner"
)

// stderrTailLimit caps the diagnostic stderr attached to results.
const stderrTailLimit = 2048

// normalize folds the raw process outcome into the result envelope.
//
// Exit code is the primary signal: zero means the runner script reached
// its success path, non-zero means it failed or was killed. The marker
// envelopes refine the classification; their absence triggers the
// lenient fallbacks so a misbehaving tool still yields a usable result.
func (e *Executor) normalize(out *executil.Output) *domain.ExecutionResult {
	tail := stderrTail(out.Stderr)

	if out.TimedOut {
		result := domain.Failure(domain.ErrToolExecution,
			fmt.Sprintf("tool execution timed out after %s", e.runner.Timeout()))
		result.StderrTail = tail
		return result
	}

	if out.ExitCode != 0 {
		if msg, ok := runner.ExtractError(out.Stderr); ok {
			result := domain.Failure(classifyToolError(msg), msg)
			result.StderrTail = tail
			return result
		}
		// No structured envelope: the process died before the runner
		// script could report (OOM kill, syntax-level crash).
		msg := strings.TrimSpace(out.Stderr)
		if msg == "" {
			msg = fmt.Sprintf("tool process exited with code %d", out.ExitCode)
		}
		result := domain.Failure(domain.ErrToolExecution, msg)
		result.StderrTail = tail
		return result
	}

	if output, ok := runner.ExtractResult(out.Stdout); ok {
		result := domain.Succeed(output)
		result.StderrTail = tail
		return result
	}

	// Lenient fallback: exit 0 without an envelope still counts as
	// success, with raw stdout as the output.
	result := domain.Succeed(strings.TrimSpace(out.Stdout))
	result.StderrTail = tail
	return result
}

// classifyToolError refines a structured runner error message into an
// error code. The runner script emits fixed phrases for the resolution
// failures; everything else is the tool's own throw.
func classifyToolError(msg string) domain.ErrorCode {
	switch {
	case strings.Contains(msg, "not found in package"):
		return domain.ErrToolNotFound
	case strings.Contains(msg, "is not executable"):
		return domain.ErrToolInvalid
	default:
		return domain.ErrToolExecution
	}
}

// stderrTail returns the last portion of stderr with marker envelope
// lines removed, for diagnostics alongside the normalized result.
func stderrTail(stderr string) string {
	lines := strings.Split(stderr, "\n")
	kept := lines[:0]
	for _, line := range lines {
		if strings.Contains(line, runner.ErrorMarker) {
			continue
		}
		kept = append(kept, line)
	}
	tail := strings.TrimSpace(strings.Join(kept, "\n"))
	if len(tail) > stderrTailLimit {
		tail = tail[len(tail)-stderrTailLimit:]
	}
	return tail
}
