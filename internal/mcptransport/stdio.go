package mcptransport

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
)

// requestTimeout is the stdio request await timeout.
const requestTimeout = 30 * time.Second

// StdioTransport spawns a child process and speaks newline-delimited
// JSON-RPC 2.0 over its stdin/stdout. Grounded on the
// reader-goroutine/pending-map pattern used for this exact problem
// elsewhere in the retrieved corpus.
type StdioTransport struct {
	cmd  string
	args []string
	env  map[string]string
	cwd  string

	logger *slog.Logger

	nextID int64

	mu       sync.Mutex
	proc     *exec.Cmd
	stdin    io.WriteCloser
	pending  map[int]chan *response
	alive    bool
	haveInit bool
}

// NewStdioTransport creates a transport that will spawn cmd with args,
// an environment overlay, and a working directory when first used.
func NewStdioTransport(cmd string, args []string, env map[string]string, cwd string, logger *slog.Logger) *StdioTransport {
	return &StdioTransport{
		cmd:     cmd,
		args:    args,
		env:     env,
		cwd:     cwd,
		logger:  logger,
		pending: map[int]chan *response{},
	}
}

func (t *StdioTransport) nextReqID() int {
	return int(atomic.AddInt64(&t.nextID, 1))
}

func (t *StdioTransport) isAlive() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.alive
}

// ensureStarted spawns the child process and its reader goroutine if
// not already running.
func (t *StdioTransport) ensureStarted(ctx context.Context) error {
	t.mu.Lock()
	if t.alive {
		t.mu.Unlock()
		return nil
	}
	t.mu.Unlock()

	cmd := exec.Command(t.cmd, t.args...)
	cmd.Stderr = os.Stderr
	cmd.Dir = t.cwd
	if len(t.env) > 0 {
		env := os.Environ()
		for k, v := range t.env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("start %s: %w", t.cmd, err)
	}

	t.mu.Lock()
	t.proc = cmd
	t.stdin = stdin
	t.alive = true
	t.haveInit = false
	t.mu.Unlock()

	go t.readLoop(stdout)
	go t.waitExit(cmd)

	return nil
}

func (t *StdioTransport) waitExit(cmd *exec.Cmd) {
	_ = cmd.Wait()
	t.mu.Lock()
	t.alive = false
	pending := t.pending
	t.pending = map[int]chan *response{}
	t.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// readLoop is the single reader task for this child's stdout. Each line
// is a complete JSON object; objects carrying an id are routed to the
// awaiter in the pending map, objects without one (notifications) are
// discarded.
func (t *StdioTransport) readLoop(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 8*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var r response
		if err := json.Unmarshal(line, &r); err != nil {
			t.logger.Warn("stdio: malformed line", "error", err)
			continue
		}
		if r.ID == nil {
			continue
		}
		t.mu.Lock()
		ch, ok := t.pending[*r.ID]
		if ok {
			delete(t.pending, *r.ID)
		}
		t.mu.Unlock()
		if ok {
			ch <- &r
		}
	}
}

func (t *StdioTransport) writeLine(msg request) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}
	data = append(data, '\n')
	t.mu.Lock()
	stdin := t.stdin
	t.mu.Unlock()
	if stdin == nil {
		return fmt.Errorf("stdio transport not started")
	}
	_, err = stdin.Write(data)
	return err
}

// call sends a request and awaits its reply with a 30s timeout.
func (t *StdioTransport) call(ctx context.Context, method string, params any) (json.RawMessage, error) {
	if err := t.ensureStarted(ctx); err != nil {
		return nil, err
	}

	id := t.nextReqID()
	ch := make(chan *response, 1)
	t.mu.Lock()
	t.pending[id] = ch
	t.mu.Unlock()

	req := newRequest(id, method, params)
	if err := t.writeLine(req); err != nil {
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case resp, ok := <-ch:
		if !ok {
			return nil, fmt.Errorf("stdio transport closed while awaiting %s", method)
		}
		if resp.Error != nil {
			return nil, fmt.Errorf("%s: %s", method, resp.Error.String())
		}
		return resp.Result, nil
	case <-time.After(requestTimeout):
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ErrRequestTimeout
	case <-ctx.Done():
		t.mu.Lock()
		delete(t.pending, id)
		t.mu.Unlock()
		return nil, ctx.Err()
	}
}

// Initialize performs the initialize handshake, followed by the
// notifications/initialized notification (no id, no awaiter). Re-sent
// whenever the session was not alive, including after a child restart.
func (t *StdioTransport) Initialize(ctx context.Context) error {
	if t.isAlive() {
		t.mu.Lock()
		already := t.haveInit
		t.mu.Unlock()
		if already {
			return nil
		}
	}

	if err := t.ensureStarted(ctx); err != nil {
		return err
	}

	result, err := t.call(ctx, "initialize", initializeParams{
		ProtocolVersion: ProtocolVersion,
		Capabilities:    map[string]any{},
		ClientInfo:      clientInfo{Name: ClientName, Version: ClientVersion},
	})
	if err != nil {
		return fmt.Errorf("initialize: %w", err)
	}
	var ir initializeResult
	if err := json.Unmarshal(result, &ir); err == nil && ir.ProtocolVersion != "" {
		if !slices.Contains(mcp.ValidProtocolVersions, ir.ProtocolVersion) {
			t.logger.Warn("server returned unrecognized protocol version", "cmd", t.cmd, "version", ir.ProtocolVersion)
		}
	}

	t.mu.Lock()
	t.haveInit = true
	t.mu.Unlock()

	notif := newNotification("notifications/initialized", map[string]any{})
	if err := t.writeLine(notif); err != nil {
		t.logger.Warn("notifications/initialized failed", "cmd", t.cmd, "error", err)
	}
	return nil
}

// ListTools issues tools/list, re-initializing first if the session is
// not alive.
func (t *StdioTransport) ListTools(ctx context.Context) ([]ToolInfo, error) {
	if err := t.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	result, err := t.call(ctx, "tools/list", nil)
	if err != nil {
		return nil, err
	}
	var lr listToolsResult
	if err := json.Unmarshal(result, &lr); err != nil {
		return nil, fmt.Errorf("decode tools/list result: %w", err)
	}
	return lr.Tools, nil
}

// CallTool issues tools/call, re-initializing first if the session is
// not alive.
func (t *StdioTransport) CallTool(ctx context.Context, name string, arguments any) (*ToolCallResult, error) {
	if err := t.ensureInitialized(ctx); err != nil {
		return nil, err
	}
	result, err := t.call(ctx, "tools/call", callToolParams{Name: name, Arguments: arguments})
	if err != nil {
		return nil, err
	}
	var tr ToolCallResult
	if err := json.Unmarshal(result, &tr); err != nil {
		return nil, fmt.Errorf("decode tools/call result: %w", err)
	}
	return &tr, nil
}

func (t *StdioTransport) ensureInitialized(ctx context.Context) error {
	if !t.isAlive() {
		return t.Initialize(ctx)
	}
	t.mu.Lock()
	init := t.haveInit
	t.mu.Unlock()
	if !init {
		return t.Initialize(ctx)
	}
	return nil
}

// Close terminates the child process, if any.
func (t *StdioTransport) Close() error {
	t.mu.Lock()
	proc := t.proc
	t.alive = false
	t.mu.Unlock()
	if proc != nil && proc.Process != nil {
		return proc.Process.Kill()
	}
	return nil
}
