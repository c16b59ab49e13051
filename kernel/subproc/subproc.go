// Package subproc provides a development kernel transport that runs
// each snippet through a local Python interpreter. It emits stream,
// execute_result and error iopub messages and honors input() prompts
// over the subprocess stdin pipe.
//
// It exists so a server can run end to end without an external kernel;
// it is not a real kernel protocol implementation.
package subproc

import (
	"bufio"
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/nevindra/nbexec"
)

//go:embed driver.py
var driverSource string

// Protocol marker prefixes written by the driver on stdout.
const (
	inputRequestPrefix = "__NBEXEC_INPUT_REQUEST__"
	resultPrefix       = "__NBEXEC_RESULT__"
	errorPrefix        = "__NBEXEC_ERROR__"
)

// Option configures a Manager.
type Option func(*Manager)

// WithLogger sets a structured logger for the transport.
func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.logger = l }
}

// WithPython sets the Python binary. Default "python3".
func WithPython(bin string) Option {
	return func(m *Manager) { m.python = bin }
}

// Manager hands out subprocess-backed clients for a fixed set of
// kernel ids.
type Manager struct {
	python  string
	logger  *slog.Logger
	mu      sync.Mutex
	kernels map[string]bool
}

var _ nbexec.KernelManager = (*Manager)(nil)

// NewManager creates a Manager knowing the given kernel ids.
func NewManager(kernelIDs []string, opts ...Option) *Manager {
	m := &Manager{
		python:  "python3",
		logger:  slog.New(slog.DiscardHandler),
		kernels: make(map[string]bool, len(kernelIDs)),
	}
	for _, id := range kernelIDs {
		m.kernels[id] = true
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Add registers another kernel id.
func (m *Manager) Add(kernelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.kernels[kernelID] = true
}

// Has reports whether the kernel id is known.
func (m *Manager) Has(kernelID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.kernels[kernelID]
}

// Client returns a new client for the kernel.
func (m *Manager) Client(kernelID string) (nbexec.KernelClient, error) {
	if !m.Has(kernelID) {
		return nil, &nbexec.ErrKernelNotFound{KernelID: kernelID}
	}
	return &Client{kernelID: kernelID, python: m.python, logger: m.logger}, nil
}

// Client runs snippets through a Python subprocess, one process per
// execution. State (variables) does not persist across snippets.
type Client struct {
	kernelID string
	python   string
	logger   *slog.Logger

	mu             sync.Mutex
	session        string
	executionCount int
	inFlight       bool
	stdin          io.WriteCloser
	stopped        bool
	kill           func()
}

var _ nbexec.KernelClient = (*Client)(nil)

// AllowStdin reports true: the driver forwards input() prompts.
func (c *Client) AllowStdin() bool { return true }

// SetSession tags subsequent messages with the session id.
func (c *Client) SetSession(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.session = id
}

// StdinMsgReady reports false: the pipe transport never buffers a
// stdin message ahead of the caller.
func (c *Client) StdinMsgReady(context.Context) (bool, error) { return false, nil }

// ShellMsgReady reports whether the execution already settled, which
// is what the input race guard needs to observe.
func (c *Client) ShellMsgReady(context.Context) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.inFlight, nil
}

// Input writes a stdin reply to the running subprocess.
func (c *Client) Input(value string) error {
	c.mu.Lock()
	stdin := c.stdin
	c.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("kernel %s has no execution awaiting input", c.kernelID)
	}
	_, err := io.WriteString(stdin, value+"\n")
	return err
}

// StopChannels kills any running subprocess. Idempotent.
func (c *Client) StopChannels() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.kill != nil {
		c.kill()
		c.kill = nil
	}
}

// ExecuteInteractive runs code in a fresh subprocess, forwarding iopub
// messages to outputHook and input prompts to stdinHook.
func (c *Client) ExecuteInteractive(ctx context.Context, code string, outputHook nbexec.OutputHook, stdinHook nbexec.StdinHook) (nbexec.Reply, error) {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return nbexec.Reply{}, fmt.Errorf("kernel %s channels are stopped", c.kernelID)
	}
	c.executionCount++
	count := c.executionCount
	session := c.session
	c.inFlight = true
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.inFlight = false
		c.stdin = nil
		c.kill = nil
		c.mu.Unlock()
	}()

	c.logger.Debug("subproc: executing snippet", "kernel_id", c.kernelID, "session", session)
	cmd := exec.CommandContext(ctx, c.python, "-u", "-c", driverSource)
	cmd.Env = append(os.Environ(), "NBEXEC_CODE="+code)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nbexec.Reply{}, fmt.Errorf("subproc: stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nbexec.Reply{}, fmt.Errorf("subproc: stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nbexec.Reply{}, fmt.Errorf("subproc: stderr pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nbexec.Reply{}, fmt.Errorf("subproc: start: %w", err)
	}
	c.mu.Lock()
	c.stdin = stdin
	c.kill = func() { _ = cmd.Process.Kill() }
	c.mu.Unlock()

	status := "ok"

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		scanner := bufio.NewScanner(stderr)
		for scanner.Scan() {
			outputHook(c.streamMessage(session, "stderr", scanner.Text()+"\n"))
		}
	}()

	scanner := bufio.NewScanner(stdout)
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case strings.HasPrefix(line, inputRequestPrefix):
			var content map[string]any
			if err := json.Unmarshal([]byte(line[len(inputRequestPrefix):]), &content); err != nil {
				continue
			}
			if stdinHook != nil {
				stdinHook(nbexec.Message{
					Header:  nbexec.MessageHeader{MsgID: nbexec.NewID(), MsgType: "input_request", Session: session, Date: nbexec.NowISO()},
					Content: content,
				})
			}
		case strings.HasPrefix(line, resultPrefix):
			var data map[string]any
			if err := json.Unmarshal([]byte(line[len(resultPrefix):]), &data); err != nil {
				continue
			}
			outputHook(nbexec.Message{
				Header: nbexec.MessageHeader{MsgID: nbexec.NewID(), MsgType: "execute_result", Session: session},
				Content: map[string]any{
					"data":            data,
					"metadata":        map[string]any{},
					"execution_count": count,
				},
			})
		case strings.HasPrefix(line, errorPrefix):
			var content map[string]any
			if err := json.Unmarshal([]byte(line[len(errorPrefix):]), &content); err != nil {
				continue
			}
			status = "error"
			outputHook(nbexec.Message{
				Header:  nbexec.MessageHeader{MsgID: nbexec.NewID(), MsgType: "error", Session: session},
				Content: content,
			})
		default:
			outputHook(c.streamMessage(session, "stdout", line+"\n"))
		}
	}
	wg.Wait()

	if err := cmd.Wait(); err != nil {
		if status != "error" {
			// the driver reports snippet failures itself; anything else
			// is a transport failure
			return nbexec.Reply{}, fmt.Errorf("subproc: %w", err)
		}
	}

	return nbexec.Reply{Content: nbexec.ReplyContent{Status: status, ExecutionCount: &count}}, nil
}

func (c *Client) streamMessage(session, name, text string) nbexec.Message {
	return nbexec.Message{
		Header: nbexec.MessageHeader{MsgID: nbexec.NewID(), MsgType: "stream", Session: session},
		Content: map[string]any{
			"name": name,
			"text": text,
		},
	}
}
