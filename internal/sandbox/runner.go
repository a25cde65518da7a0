package sandbox

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/vinodismyname/xlcore/config"
	"github.com/vinodismyname/xlcore/internal/graph"
	"github.com/vinodismyname/xlcore/internal/model"
	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// pythonExecutableEnvVar names an interpreter explicitly, skipping
// candidate search (mirrors the teacher's FORMULA_PYTHON_EXECUTABLE
// escape hatch for pinned CI/deployment interpreters).
const pythonExecutableEnvVar = "XLCORE_PYTHON_EXECUTABLE"

// RunRequest is one script execution request. TimeoutMs and
// MaxMemoryBytes are pointers so "not supplied" (apply the configured
// default) is distinguishable from an explicit 0, which disables the
// timeout guard entirely.
type RunRequest struct {
	Code           string
	Permissions    Permissions
	TimeoutMs      *uint64
	MaxMemoryBytes *uint64
	Context        *RunContext
}

// Config configures how the child interpreter process is launched.
type Config struct {
	// PythonExecutable pins the interpreter path, skipping candidate
	// search and the XLCORE_PYTHON_EXECUTABLE environment override.
	PythonExecutable string
	// RunnerModule is invoked as `<python> -u -m <RunnerModule>`; it must
	// speak this package's line-delimited JSON frame protocol on its
	// stdin/stdout.
	RunnerModule string
	// ExtraPythonPath entries are prepended to the child's PYTHONPATH.
	ExtraPythonPath []string
	// WorkDir sets the child process's working directory; empty uses the
	// host process's own.
	WorkDir string
}

const defaultRunnerModule = "xlcore_sandbox.stdio_runner"

func (c Config) pythonCandidates() []string {
	if c.PythonExecutable != "" {
		return []string{c.PythonExecutable}
	}
	if env := strings.TrimSpace(os.Getenv(pythonExecutableEnvVar)); env != "" {
		return []string{env}
	}
	return []string{"python3", "python"}
}

func (c Config) runnerModule() string {
	if c.RunnerModule != "" {
		return c.RunnerModule
	}
	return defaultRunnerModule
}

func (c Config) pythonPath() string {
	entries := append([]string{}, c.ExtraPythonPath...)
	if existing := os.Getenv("PYTHONPATH"); existing != "" {
		entries = append(entries, existing)
	}
	return strings.Join(entries, string(os.PathListSeparator))
}

// Run executes one script against wb/g: it spawns a child interpreter,
// speaks the execute/rpc/rpc_response/result frame protocol over its
// stdin/stdout, and arms a timeout guard that kills the child if it runs
// past its deadline (spec.md §5, §6). The caller is expected to already
// hold exclusive (write) access to wb/g for the duration of the call — the
// single-owner-per-workbook policy is what makes the whole run atomic
// from any other goroutine's perspective.
func Run(ctx context.Context, wb *model.Workbook, g *graph.Graph, req RunRequest, cfg Config) (RunResult, error) {
	if uint64(len(req.Code)) > config.MaxScriptCodeBytes {
		return RunResult{}, mcperr.New(mcperr.PayloadTooLarge,
			"script code is %d bytes; the limit is %d", len(req.Code), config.MaxScriptCodeBytes)
	}
	if err := enforceEscalationPolicy(req.Permissions); err != nil {
		return RunResult{}, err
	}

	timeoutMs := uint64(config.DefaultSandboxTimeout / time.Millisecond)
	if req.TimeoutMs != nil {
		timeoutMs = *req.TimeoutMs
	}
	maxMemoryBytes := uint64(config.DefaultSandboxMaxMemoryBytes)
	if req.MaxMemoryBytes != nil {
		maxMemoryBytes = *req.MaxMemoryBytes
	}

	h, err := newHost(wb, g, req.Context)
	if err != nil {
		return RunResult{}, err
	}

	cmd, stdin, stdout, stderr, err := spawnRunner(cfg)
	if err != nil {
		return RunResult{}, err
	}

	var stderrBuf bytes.Buffer
	var stderrWG sync.WaitGroup
	stderrWG.Add(1)
	go func() {
		defer stderrWG.Done()
		_, _ = io.Copy(&stderrBuf, stderr)
	}()

	guard := newTimeoutGuard(ctx, time.Duration(timeoutMs)*time.Millisecond, cmd)

	execFrame := executeFrame{
		Type:           frameExecute,
		Code:           req.Code,
		Permissions:    req.Permissions,
		TimeoutMs:      timeoutMs,
		MaxMemoryBytes: maxMemoryBytes,
	}
	if err := writeFrame(stdin, execFrame); err != nil {
		guard.stop()
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
		stderrWG.Wait()
		return RunResult{}, mcperr.Wrap(mcperr.Validation, err, "writing execute frame")
	}

	result, dispatchErr := runFrameLoop(stdin, stdout, h)

	_ = cmd.Wait()
	guard.stop()
	stderrWG.Wait()

	if guard.timedOutFlag() {
		return RunResult{
			OK:     false,
			Stderr: stderrBuf.String(),
			Err:    &ScriptError{Message: fmt.Sprintf("python script timed out after %dms", timeoutMs)},
		}, nil
	}
	if dispatchErr != nil {
		return RunResult{}, dispatchErr
	}
	if result == nil {
		return RunResult{}, mcperr.New(mcperr.Validation, "python process exited without sending a result")
	}

	updates := h.takeUpdates()
	if result.Success {
		return RunResult{OK: true, Stderr: stderrBuf.String(), Updates: updates}, nil
	}
	msg := "python script failed"
	if result.Error != nil {
		msg = *result.Error
	}
	return RunResult{
		OK:      false,
		Stderr:  stderrBuf.String(),
		Updates: updates,
		Err:     &ScriptError{Message: msg, Stack: result.Traceback},
	}, nil
}

func spawnRunner(cfg Config) (cmd *exec.Cmd, stdin io.WriteCloser, stdout, stderr io.ReadCloser, err error) {
	candidates := cfg.pythonCandidates()
	var lastErr error
	for _, exe := range candidates {
		c := exec.Command(exe, "-u", "-m", cfg.runnerModule())
		if cfg.WorkDir != "" {
			c.Dir = cfg.WorkDir
		}
		if pp := cfg.pythonPath(); pp != "" {
			c.Env = append(os.Environ(), "PYTHONPATH="+pp)
		}
		in, e1 := c.StdinPipe()
		out, e2 := c.StdoutPipe()
		errPipe, e3 := c.StderrPipe()
		if e1 != nil || e2 != nil || e3 != nil {
			lastErr = firstNonNil(e1, e2, e3)
			continue
		}
		if startErr := c.Start(); startErr != nil {
			lastErr = startErr
			continue
		}
		return c, in, out, errPipe, nil
	}
	return nil, nil, nil, nil, mcperr.Wrap(mcperr.Validation, lastErr,
		"failed to spawn python runner (tried %v)", candidates)
}

func firstNonNil(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}

func writeFrame(w io.Writer, v any) error {
	enc, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if _, err := w.Write(enc); err != nil {
		return err
	}
	_, err = w.Write([]byte("\n"))
	return err
}

// runFrameLoop reads runnerFrame lines from stdout until a "result" frame
// arrives, dispatching every "rpc" frame to h and writing back its
// rpc_response frame. It returns the terminal result frame, or an error if
// the protocol itself is violated (malformed JSON, unexpected EOF).
func runFrameLoop(stdin io.Writer, stdout io.Reader, h *host) (*runnerFrame, error) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var frame runnerFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return nil, mcperr.New(mcperr.Validation,
				"python runtime protocol error (invalid JSON line): %v: %s", err, line)
		}

		switch frame.Type {
		case frameRPC:
			value, rpcErr := h.handleRPC(frame.Method, frame.Params)
			resp := rpcResponseFrame{Type: frameRPCResponse, ID: frame.ID}
			if rpcErr != nil {
				msg := rpcErr.Error()
				resp.Error = &msg
				resp.Result = json.RawMessage("null")
			} else {
				raw, err := json.Marshal(value)
				if err != nil {
					msg := err.Error()
					resp.Error = &msg
					resp.Result = json.RawMessage("null")
				} else {
					resp.Result = raw
				}
			}
			if err := writeFrame(stdin, resp); err != nil {
				return nil, mcperr.Wrap(mcperr.Validation, err, "writing rpc_response frame")
			}
		case frameResult:
			f := frame
			return &f, nil
		default:
			return nil, mcperr.New(mcperr.Validation, "unrecognized runner frame type %q", frame.Type)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, mcperr.Wrap(mcperr.Validation, err, "reading python runner stdout")
	}
	return nil, nil
}
