// Package audio runs external media filters over in-memory buffers.
package audio

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/yoockh/yoorelay/internal/utils"
)

// TransformError describes a filter process that could not be started or
// exited with a non-zero status. ExitCode is -1 when the process never ran or
// was killed by a signal.
type TransformError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *TransformError) Error() string {
	msg := fmt.Sprintf("exit code %d", e.ExitCode)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += ": " + tail(e.Stderr, 512)
	}
	return msg
}

func (e *TransformError) Unwrap() error { return e.Err }

// RunFilter starts path with args, writes input to its stdin and returns its
// stdout. stdin is fed and stdout/stderr are drained concurrently, so a child
// that writes a lot before reading all of its input never blocks. Every pipe
// is closed and the child reaped before RunFilter returns.
func RunFilter(ctx context.Context, path string, args []string, input []byte) ([]byte, error) {
	const op = "audio.RunFilter"

	cmd := exec.CommandContext(ctx, path, args...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, spawnFailure(op, err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, spawnFailure(op, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		_ = stdin.Close()
		return nil, spawnFailure(op, err)
	}

	if err := cmd.Start(); err != nil {
		return nil, spawnFailure(op, err)
	}

	var out, errOut bytes.Buffer
	var g errgroup.Group

	g.Go(func() error {
		_, werr := stdin.Write(input)
		cerr := stdin.Close()
		if werr != nil && !brokenPipe(werr) {
			return fmt.Errorf("write stdin: %w", werr)
		}
		if cerr != nil && !brokenPipe(cerr) {
			return fmt.Errorf("close stdin: %w", cerr)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(&out, stdout); err != nil {
			return fmt.Errorf("read stdout: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := io.Copy(&errOut, stderr); err != nil {
			return fmt.Errorf("read stderr: %w", err)
		}
		return nil
	})

	// pipes must be fully read before Wait closes them
	pipeErr := g.Wait()
	waitErr := cmd.Wait()

	if waitErr != nil {
		te := &TransformError{ExitCode: -1, Stderr: errOut.String(), Err: waitErr}
		var ee *exec.ExitError
		if errors.As(waitErr, &ee) {
			te.ExitCode = ee.ExitCode()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			te.Err = fmt.Errorf("%w (%v)", waitErr, ctxErr)
		}
		return nil, utils.E(utils.CodeTransformFailure, op, "filter process failed", te)
	}
	if pipeErr != nil {
		te := &TransformError{ExitCode: 0, Stderr: errOut.String(), Err: pipeErr}
		return nil, utils.E(utils.CodeTransformFailure, op, "filter pipe failed", te)
	}
	return out.Bytes(), nil
}

func spawnFailure(op string, err error) error {
	return utils.E(utils.CodeTransformFailure, op, "failed to start filter process", &TransformError{ExitCode: -1, Err: err})
}

func brokenPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) || errors.Is(err, os.ErrClosed)
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
