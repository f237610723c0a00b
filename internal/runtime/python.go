package runtime

import (
	"bufio"
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

//go:embed driver.py
var driverSource string

const (
	maxReplyBytes  = 8 << 20
	stderrTailSize = 16 << 10
)

// PythonConfig controls how the interpreter process is launched.
type PythonConfig struct {
	// Command is the launcher prefix. The last element must be a python
	// binary, e.g. ["python3"] or ["docker", "run", "-i", "--rm", "python:3.12-slim", "python3"].
	Command      []string
	Env          []string
	StartTimeout time.Duration

	// Launcher, when set, replaces Command and is called on every start.
	// release runs once the process has exited.
	Launcher func() (command []string, release func())
}

// Interpreter is a long-lived Python process. Globals defined by one call
// stay visible to later calls, the same way a page-level interpreter keeps
// its namespace between runs.
type Interpreter struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	mu      sync.Mutex // one request/response frame on the pipe at a time
	nextID  uint64
	replies chan pyReply
	quit    chan struct{}
	stop    sync.Once
	done    chan struct{}
	exitErr error
	release func()
}

type pyRequest struct {
	ID   uint64 `json:"id"`
	Op   string `json:"op"`
	Code string `json:"code"`
}

type pyReply struct {
	ID     uint64          `json:"id"`
	OK     bool            `json:"ok"`
	Stdout string          `json:"stdout"`
	Value  json.RawMessage `json:"value,omitempty"`
	Text   string          `json:"text,omitempty"`
	Type   string          `json:"type,omitempty"`
	Error  string          `json:"error,omitempty"`
}

// Value is the result of evaluating a Python expression.
type Value struct {
	// JSON is the value's JSON encoding, nil when it has none.
	JSON json.RawMessage
	// Text is str(value).
	Text string
	// Type is the Python type name.
	Type string
}

// Native returns the decoded JSON form of the value, falling back to its
// text form when the value is not JSON-representable. Numbers decode as
// json.Number so large integers keep every digit.
func (v Value) Native() any {
	if v.JSON == nil {
		return v.Text
	}
	dec := json.NewDecoder(bytes.NewReader(v.JSON))
	dec.UseNumber()
	var out any
	if err := dec.Decode(&out); err != nil {
		return v.Text
	}
	return out
}

// StartInterpreter launches the interpreter and waits until it answers a
// first request. A missing binary is reported as ErrUnavailable.
func StartInterpreter(ctx context.Context, cfg PythonConfig) (*Interpreter, error) {
	command := cfg.Command
	var release func()
	if cfg.Launcher != nil {
		command, release = cfg.Launcher()
	}
	if len(command) == 0 {
		command = []string{"python3"}
	}
	bin, err := exec.LookPath(command[0])
	if err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("%w: %s not found: %v", ErrUnavailable, command[0], err)
	}

	args := append(append([]string{}, command[1:]...), "-u", "-B", "-c", driverSource)
	cmd := exec.Command(bin, args...) // #nosec G204 -- launcher comes from operator config
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8", "PYTHONDONTWRITEBYTECODE=1")
	cmd.Env = append(cmd.Env, cfg.Env...)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("creating stdout pipe: %w", err)
	}
	stderr := &tailBuffer{max: stderrTailSize}
	cmd.Stderr = stderr

	if err := cmd.Start(); err != nil {
		if release != nil {
			release()
		}
		return nil, fmt.Errorf("%w: starting %s: %v", ErrUnavailable, bin, err)
	}

	i := &Interpreter{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  stderr,
		replies: make(chan pyReply),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		release: release,
	}
	go i.readLoop(stdout)

	timeout := cfg.StartTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	startCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if _, err := i.Eval(startCtx, "1"); err != nil {
		_ = i.Close()
		return nil, fmt.Errorf("%w: interpreter handshake: %v", ErrUnavailable, err)
	}

	log.Debug().Int("pid", cmd.Process.Pid).Strs("command", command).Msg("python interpreter started")
	return i, nil
}

// Exec runs code with stdout captured and returns what it printed.
func (i *Interpreter) Exec(ctx context.Context, code string) (string, error) {
	rep, err := i.call(ctx, "exec", code)
	if err != nil {
		return "", err
	}
	if !rep.OK {
		return rep.Stdout, &ExecError{Message: rep.Error}
	}
	return rep.Stdout, nil
}

// Eval runs code and returns the value of its trailing expression statement,
// or None when the code does not end in an expression.
func (i *Interpreter) Eval(ctx context.Context, code string) (Value, error) {
	rep, err := i.call(ctx, "eval", code)
	if err != nil {
		return Value{}, err
	}
	if !rep.OK {
		return Value{}, &ExecError{Message: rep.Error}
	}
	return Value{JSON: rep.Value, Text: rep.Text, Type: rep.Type}, nil
}

// Alive reports whether the process is still running and has not been
// marked for termination.
func (i *Interpreter) Alive() bool {
	select {
	case <-i.done:
		return false
	case <-i.quit:
		return false
	default:
		return true
	}
}

// Close stops the interpreter. Closing stdin lets the driver loop exit on
// its own; the process is killed if it does not.
func (i *Interpreter) Close() error {
	if i.cmd == nil {
		return nil
	}
	_ = i.stdin.Close()
	select {
	case <-i.done:
	case <-time.After(2 * time.Second):
		i.kill()
		<-i.done
	}
	i.stop.Do(func() { close(i.quit) })
	return nil
}

func (i *Interpreter) call(ctx context.Context, op, code string) (pyReply, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if !i.Alive() {
		<-i.done
		return pyReply{}, i.exitError()
	}

	i.nextID++
	req := pyRequest{ID: i.nextID, Op: op, Code: code}
	line, err := json.Marshal(req)
	if err != nil {
		return pyReply{}, fmt.Errorf("encoding request: %w", err)
	}
	if _, err := i.stdin.Write(append(line, '\n')); err != nil {
		return pyReply{}, fmt.Errorf("writing request: %w", err)
	}

	for {
		select {
		case rep, ok := <-i.replies:
			if !ok {
				<-i.done
				return pyReply{}, i.exitError()
			}
			if rep.ID != req.ID {
				continue
			}
			return rep, nil
		case <-ctx.Done():
			log.Warn().Str("op", op).Msg("interpreter call abandoned, killing process")
			i.kill()
			return pyReply{}, ctx.Err()
		}
	}
}

func (i *Interpreter) readLoop(r io.Reader) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64<<10), maxReplyBytes)

	for sc.Scan() {
		var rep pyReply
		if err := json.Unmarshal(sc.Bytes(), &rep); err != nil {
			log.Warn().Err(err).Msg("discarding malformed interpreter reply")
			continue
		}
		select {
		case i.replies <- rep:
		case <-i.quit:
		}
	}
	if err := sc.Err(); err != nil {
		log.Error().Err(err).Msg("interpreter reply stream failed")
		i.kill()
	}
	close(i.replies)
	i.exitErr = i.cmd.Wait()
	if i.release != nil {
		i.release()
	}
	close(i.done)
}

func (i *Interpreter) kill() {
	i.stop.Do(func() { close(i.quit) })
	if i.cmd != nil && i.cmd.Process != nil {
		_ = i.cmd.Process.Kill()
	}
}

func (i *Interpreter) exitError() error {
	tail := i.stderr.String()
	if tail != "" {
		return fmt.Errorf("%w: %v: %s", ErrExited, i.exitErr, tail)
	}
	return fmt.Errorf("%w: %v", ErrExited, i.exitErr)
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf.Write(p)
	if over := t.buf.Len() - t.max; over > 0 {
		t.buf.Next(over)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	if t == nil {
		return ""
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.buf.String()
}
