package dispatch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"syscall"

	"github.com/motionforge/posepipe/ipc"
	"github.com/motionforge/posepipe/types"
)

// Estimator exit codes per the IPC contract.
const (
	// ExitCodeOK means a response frame was emitted.
	ExitCodeOK = 0
	// ExitCodeEstimateError means the estimator reported a per-frame failure.
	ExitCodeEstimateError = 1
	// ExitCodeCrash means the estimator crashed without a terminal frame.
	ExitCodeCrash = 2
	// ExitCodeInvalidInput means the estimator rejected its input.
	ExitCodeInvalidInput = 3
)

// Invoker abstracts a single external per-frame invocation.
// Implementations must honor ctx cancellation by terminating the
// underlying work and returning promptly.
type Invoker interface {
	Invoke(ctx context.Context, req *Request) (*types.PoseObservation, error)
}

// InvokerFunc adapts a function to the Invoker interface. Used for test
// doubles.
type InvokerFunc func(ctx context.Context, req *Request) (*types.PoseObservation, error)

// Invoke calls f.
func (f InvokerFunc) Invoke(ctx context.Context, req *Request) (*types.PoseObservation, error) {
	return f(ctx, req)
}

// SubprocessConfig configures subprocess-based estimator invocation.
type SubprocessConfig struct {
	// EstimatorPath is the path to the estimator binary.
	EstimatorPath string
	// Args are extra arguments passed to every invocation.
	Args []string
	// ModelDir optionally points the estimator at its weights directory,
	// exported as POSEPIPE_MODEL_DIR.
	ModelDir string
}

// SubprocessInvoker runs one estimator process per frame.
//
// Protocol: the request is written to stdin as a single framed msgpack
// message, the response is read from stdout the same way, and stderr is
// captured for diagnostics. The process is expected to exit after
// emitting its response.
type SubprocessInvoker struct {
	config SubprocessConfig
}

// NewSubprocessInvoker creates a subprocess invoker.
func NewSubprocessInvoker(config SubprocessConfig) (*SubprocessInvoker, error) {
	if config.EstimatorPath == "" {
		return nil, errors.New("estimator path is required")
	}
	return &SubprocessInvoker{config: config}, nil
}

// Invoke runs the estimator for a single frame.
//
// A failed stdin handoff is tracked via an explicit flag and checked at
// completion time: exit status alone does not reveal a failed write, and
// a worker that exits 0 after a mid-flight transmission failure must
// still resolve as ErrTransmission.
func (v *SubprocessInvoker) Invoke(ctx context.Context, req *Request) (*types.PoseObservation, error) {
	cmd := exec.CommandContext(ctx, v.config.EstimatorPath, v.config.Args...)
	if v.config.ModelDir != "" {
		cmd.Env = append(os.Environ(), "POSEPIPE_MODEL_DIR="+v.config.ModelDir)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, NewDispatchError(ErrWorker, req.FrameNumber, fmt.Errorf("stdin pipe: %w", err))
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, NewDispatchError(ErrWorker, req.FrameNumber, fmt.Errorf("stdout pipe: %w", err))
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, NewDispatchError(ErrWorker, req.FrameNumber, fmt.Errorf("stderr pipe: %w", err))
	}

	if err := cmd.Start(); err != nil {
		return nil, NewDispatchError(ErrWorker, req.FrameNumber, fmt.Errorf("start estimator: %w", err))
	}

	// Payload handoff. Write failures do not abort the invocation here;
	// the flag is consulted after the process exits.
	sendFailed := false
	enc := ipc.NewFrameEncoder(stdin)
	if err := enc.WriteFrame(&ipc.EstimateRequest{
		FrameNumber: req.FrameNumber,
		Payload:     req.Payload,
	}); err != nil {
		sendFailed = true
	}
	if err := stdin.Close(); err != nil {
		sendFailed = true
	}

	// Read the single response frame before Wait: exec.Cmd.Wait closes
	// the stdout pipe, which would race with the read.
	var resp *ipc.EstimateResponse
	var respErr error
	payload, respErr := ipc.NewFrameDecoder(stdout).ReadFrame()
	if respErr == nil {
		resp, respErr = ipc.DecodeResponse(payload)
	}

	stderrBytes, _ := io.ReadAll(stderr)

	exitCode, waitErr := waitExitCode(cmd)

	if ctx.Err() == context.DeadlineExceeded {
		return nil, &DispatchError{
			Kind:        ErrTimeout,
			FrameNumber: req.FrameNumber,
			Stderr:      string(stderrBytes),
			Err:         ctx.Err(),
		}
	}
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		return nil, NewDispatchError(ErrWorker, req.FrameNumber, fmt.Errorf("wait: %w", waitErr))
	}

	// Checked before exit status on purpose: a clean exit after a failed
	// write still means the worker never saw the full payload.
	if sendFailed {
		return nil, &DispatchError{
			Kind:        ErrTransmission,
			FrameNumber: req.FrameNumber,
			Stderr:      string(stderrBytes),
			Err:         fmt.Errorf("stdin handoff failed (exit code %d)", exitCode),
		}
	}

	switch exitCode {
	case ExitCodeOK:
		if respErr != nil {
			return nil, &DispatchError{
				Kind:        ErrWorker,
				FrameNumber: req.FrameNumber,
				Stderr:      string(stderrBytes),
				Err:         fmt.Errorf("protocol error: %w", respErr),
			}
		}
		if resp.Observation == nil {
			return nil, &DispatchError{
				Kind:        ErrWorker,
				FrameNumber: req.FrameNumber,
				Stderr:      string(stderrBytes),
				Err:         errors.New("estimator exited cleanly without an observation"),
			}
		}
		return resp.Observation, nil

	case ExitCodeEstimateError:
		diag := ""
		if resp != nil {
			diag = resp.Error
		}
		if diag == "" {
			diag = "estimator reported failure"
		}
		return nil, &DispatchError{
			Kind:        ErrWorker,
			FrameNumber: req.FrameNumber,
			Stderr:      string(stderrBytes),
			Err:         errors.New(diag),
		}

	case ExitCodeInvalidInput:
		return nil, &DispatchError{
			Kind:        ErrWorker,
			FrameNumber: req.FrameNumber,
			Stderr:      string(stderrBytes),
			Err:         errors.New("estimator rejected invalid input"),
		}

	default:
		return nil, &DispatchError{
			Kind:        ErrWorker,
			FrameNumber: req.FrameNumber,
			Stderr:      string(stderrBytes),
			Err:         fmt.Errorf("estimator exited with code %d", exitCode),
		}
	}
}

// waitExitCode reaps the process and maps its exit status.
func waitExitCode(cmd *exec.Cmd) (int, error) {
	err := cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		if status, ok := exitErr.Sys().(syscall.WaitStatus); ok {
			return status.ExitStatus(), nil
		}
		return -1, nil
	}
	return 0, err
}
