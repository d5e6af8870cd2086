package venvbuild

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/google/uuid"
	"github.com/ulikunitz/xz"
	"golang.org/x/sys/unix"
)

// ScriptRunner runs shell programs inside the target environment.
type ScriptRunner interface {
	Exec(script string, opts ExecOptions) (*ExecResult, error)
}

// ExecOptions tunes a single Exec call.
type ExecOptions struct {
	Label string // used in log file names and messages
	Log   bool   // also persist the combined output as an xz-compressed log
}

// ExecResult is the captured outcome of one script run.
type ExecResult struct {
	ID       string
	ExitCode int
	Stdout   string
	Stderr   string
	LogPath  string // set when ExecOptions.Log was requested
}

// Executor runs scripts with a shell, with the target environment activated
// the way a virtualenv activate script would.
type Executor struct {
	Context   context.Context // cancelling it kills the running script
	Shell     string          // defaults to /bin/sh
	TargetEnv string
	Environ   []string  // explicit environment snapshot forwarded to scripts
	LogDir    string    // where ExecOptions.Log writes; defaults to <TargetEnv>/.venvbuild/logs
	Console   io.Writer // receives live output when Verbose is set; defaults to os.Stdout
}

// NewExecutor returns an Executor for targetEnv using the given environment.
func NewExecutor(ctx context.Context, targetEnv string, environ []string) *Executor {
	return &Executor{Context: ctx, TargetEnv: targetEnv, Environ: environ}
}

// env returns the environment handed to scripts: the snapshot plus
// TARGET_ENV, VIRTUAL_ENV and the target's bin directory first on PATH.
func (e *Executor) env() []string {
	env := setEnv(e.Environ, targetEnvVar, e.TargetEnv)
	env = setEnv(env, "VIRTUAL_ENV", e.TargetEnv)

	path := filepath.Join(e.TargetEnv, "bin")
	if inherited := envMap(e.Environ)["PATH"]; inherited != "" {
		path += string(os.PathListSeparator) + inherited
	}
	return setEnv(env, "PATH", path)
}

func (e *Executor) runContext() context.Context {
	if e.Context == nil {
		return context.Background()
	}
	return e.Context
}

// Exec runs script once. A non-zero exit yields an *ExecutionError holding
// the exit code and everything written before the failure.
func (e *Executor) Exec(script string, opts ExecOptions) (*ExecResult, error) {
	ctx := e.runContext()
	shell := e.Shell
	if shell == "" {
		shell = defaultShell
	}

	res := &ExecResult{ID: uuid.New().String()}
	debugf("[%s] %s -c <<EOF\n%sEOF\n", res.ID, shell, script)

	var stdout, stderr, combined bytes.Buffer
	outW := io.MultiWriter(&stdout, &combined)
	errW := io.MultiWriter(&stderr, &combined)
	if Verbose {
		console := e.Console
		if console == nil {
			console = os.Stdout
		}
		outW = io.MultiWriter(outW, console)
		errW = io.MultiWriter(errW, console)
	}

	cmd := exec.Command(shell, "-c", script)
	cmd.Env = e.env()
	cmd.Stdout = outW
	cmd.Stderr = errW
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", shell, err)
	}

	// Kill the whole process group on cancellation so make's children go too.
	pgid := cmd.Process.Pid
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
			_ = unix.Kill(-pgid, unix.SIGKILL)
		case <-done:
		}
	}()
	waitErr := cmd.Wait()
	close(done)

	res.Stdout = stdout.String()
	res.Stderr = stderr.String()
	res.ExitCode = cmd.ProcessState.ExitCode()

	var runErr error
	switch {
	case ctx.Err() != nil:
		runErr = fmt.Errorf("command aborted: %w", ctx.Err())
	case waitErr != nil:
		var exitErr *exec.ExitError
		if !errors.As(waitErr, &exitErr) {
			runErr = fmt.Errorf("wait for %s: %w", shell, waitErr)
		} else {
			runErr = &ExecutionError{ExitCode: res.ExitCode, Output: combined.String()}
		}
	}

	// A log that cannot be written never hides how the script ended.
	if opts.Log {
		logPath, err := e.writeLog(res.ID, opts.Label, combined.Bytes())
		if err != nil {
			return res, errors.Join(runErr, err)
		}
		res.LogPath = logPath
	}
	return res, runErr
}

// writeLog stores output as <LogDir>/<label>-<id>.log.xz.
func (e *Executor) writeLog(id, label string, output []byte) (string, error) {
	dir := e.LogDir
	if dir == "" {
		dir = filepath.Join(e.TargetEnv, stateDir, "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fsError("mkdir", dir, err)
	}
	if label == "" {
		label = "exec"
	}
	label = strings.NewReplacer("/", "_", string(os.PathSeparator), "_").Replace(label)
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.log.xz", label, id))

	f, err := os.Create(path)
	if err != nil {
		return "", fsError("create", path, err)
	}
	defer f.Close()

	xzWriter, err := xz.NewWriter(f)
	if err != nil {
		return "", fmt.Errorf("failed to create xz writer: %w", err)
	}
	if _, err := xzWriter.Write(output); err != nil {
		xzWriter.Close()
		return "", fsError("write", path, err)
	}
	if err := xzWriter.Close(); err != nil {
		return "", fsError("write", path, err)
	}
	debugf("Wrote log %s\n", path)
	return path, nil
}
