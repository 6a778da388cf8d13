package mcp

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/openguenther/guenther/internal/observability"
)

const defaultCallTimeout = 30 * time.Second

// Transport runs one server subprocess and correlates JSON-RPC requests
// with responses by id. One message per line on both pipes.
type Transport struct {
	spec   LaunchSpec
	logger *observability.Logger

	process *exec.Cmd
	stdin   io.WriteCloser
	stdout  *bufio.Scanner
	stderr  io.ReadCloser

	pending   map[int64]chan *jsonrpcResponse
	pendingMu sync.Mutex
	events    chan *Notification
	nextID    atomic.Int64

	connected atomic.Bool
	stopChan  chan struct{}
	wg        sync.WaitGroup
}

func NewTransport(spec LaunchSpec, logger *observability.Logger) *Transport {
	return &Transport{
		spec:     spec,
		logger:   logger.WithFields("mcp_server", spec.ID),
		pending:  make(map[int64]chan *jsonrpcResponse),
		events:   make(chan *Notification, 100),
		stopChan: make(chan struct{}),
	}
}

// Connect starts the subprocess and the read loops.
func (t *Transport) Connect(ctx context.Context) error {
	if t.spec.Command == "" {
		return fmt.Errorf("command is required")
	}

	t.process = exec.Command(t.spec.Command, t.spec.Args...)
	t.process.Env = os.Environ()
	for k, v := range t.spec.Env {
		t.process.Env = append(t.process.Env, fmt.Sprintf("%s=%s", k, v))
	}
	if t.spec.WorkDir != "" {
		t.process.Dir = t.spec.WorkDir
	}

	var err error
	t.stdin, err = t.process.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := t.process.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	t.stdout = bufio.NewScanner(stdout)
	t.stdout.Buffer(make([]byte, 1024*1024), 1024*1024)

	t.stderr, _ = t.process.StderrPipe()

	if err := t.process.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	t.connected.Store(true)
	t.logger.Info(ctx, "tool server process started",
		"command", t.spec.Command,
		"pid", t.process.Process.Pid)

	t.wg.Add(1)
	go t.readLoop()

	if t.stderr != nil {
		t.wg.Add(1)
		go t.logStderr()
	}

	return nil
}

// Close kills the subprocess and stops the read loops.
func (t *Transport) Close() error {
	if !t.connected.CompareAndSwap(true, false) {
		return nil
	}
	close(t.stopChan)

	if t.stdin != nil {
		t.stdin.Close()
	}
	if t.process != nil && t.process.Process != nil {
		t.process.Process.Kill()
		t.process.Wait()
	}

	t.wg.Wait()
	return nil
}

// Call sends one request and waits for the matching response.
func (t *Transport) Call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if !t.connected.Load() {
		return nil, fmt.Errorf("not connected")
	}

	id := t.nextID.Add(1)
	req := jsonrpcRequest{JSONRPC: "2.0", ID: id, Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("marshal params: %w", err)
		}
		req.Params = raw
	}

	respChan := make(chan *jsonrpcResponse, 1)
	t.pendingMu.Lock()
	t.pending[id] = respChan
	t.pendingMu.Unlock()
	defer func() {
		t.pendingMu.Lock()
		delete(t.pending, id)
		t.pendingMu.Unlock()
	}()

	data, _ := json.Marshal(req)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return nil, fmt.Errorf("write request: %w", err)
	}

	timeout := t.spec.Timeout
	if timeout == 0 {
		timeout = defaultCallTimeout
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, resp.Error
		}
		return resp.Result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(timeout):
		return nil, fmt.Errorf("request timeout after %v", timeout)
	case <-t.stopChan:
		return nil, fmt.Errorf("transport closed")
	}
}

// Notify sends a notification; no response is expected.
func (t *Transport) Notify(ctx context.Context, method string, params any) error {
	if !t.connected.Load() {
		return fmt.Errorf("not connected")
	}

	notif := Notification{JSONRPC: "2.0", Method: method}
	if params != nil {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("marshal params: %w", err)
		}
		notif.Params = raw
	}

	data, _ := json.Marshal(notif)
	if _, err := t.stdin.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write notification: %w", err)
	}
	return nil
}

// Events returns server-initiated notifications.
func (t *Transport) Events() <-chan *Notification {
	return t.events
}

func (t *Transport) Connected() bool {
	return t.connected.Load()
}

func (t *Transport) readLoop() {
	defer t.wg.Done()
	defer t.connected.Store(false)

	for t.stdout.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}

		line := t.stdout.Text()
		if line == "" {
			continue
		}
		t.dispatch(line)
	}

	if err := t.stdout.Err(); err != nil {
		t.logger.Error(context.Background(), "stdout scanner error", "error", err)
	}
}

// dispatch routes one line: responses go to the pending caller by id,
// notifications to the event channel, anything else is dropped.
func (t *Transport) dispatch(line string) {
	var resp jsonrpcResponse
	if err := json.Unmarshal([]byte(line), &resp); err == nil && resp.ID != nil {
		var id int64
		switch v := resp.ID.(type) {
		case float64:
			id = int64(v)
		case int64:
			id = v
		case int:
			id = int64(v)
		default:
			t.logger.Warn(context.Background(), "unexpected response id type", "id", resp.ID)
			return
		}

		t.pendingMu.Lock()
		if ch, ok := t.pending[id]; ok {
			select {
			case ch <- &resp:
			default:
			}
			delete(t.pending, id)
		}
		t.pendingMu.Unlock()
		return
	}

	var notif Notification
	if err := json.Unmarshal([]byte(line), &notif); err == nil && notif.Method != "" {
		select {
		case t.events <- &notif:
		default:
			t.logger.Warn(context.Background(), "notification channel full, dropping")
		}
	}
}

func (t *Transport) logStderr() {
	defer t.wg.Done()

	scanner := bufio.NewScanner(t.stderr)
	for scanner.Scan() {
		select {
		case <-t.stopChan:
			return
		default:
		}
		if line := scanner.Text(); line != "" {
			t.logger.Debug(context.Background(), "server stderr", "message", line)
		}
	}
}
