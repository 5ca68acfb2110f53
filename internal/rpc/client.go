package rpc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/debug"
	"github.com/untoldecay/ContextKeeper/internal/lockfile"
)

// ClientVersion is stamped by the build and sent with every request so
// the engine can refuse incompatible pairings.
var ClientVersion = "0.0.0"

// DefaultClientTimeout bounds one request round trip, including any
// long-poll wait the engine performs on our behalf.
const DefaultClientTimeout = 35 * time.Second

// Client talks to a running daemon over its unix socket. Each call opens
// its own connection; the daemon is cheap to dial and per-call
// connections avoid interleaving concurrent CLI invocations.
type Client struct {
	socketPath   string
	timeout      time.Duration
	databasePath string
	actor        string
}

// NewClient returns a client for an explicit socket path.
func NewClient(socketPath string) *Client {
	return &Client{
		socketPath: socketPath,
		timeout:    DefaultClientTimeout,
		actor:      config.Actor(""),
	}
}

// TryConnect probes for a daemon serving the workspace. It returns
// (nil, nil) when no daemon is running, so callers fall back to direct
// storage without treating the absence as an error.
func TryConnect(workspacePath string) (*Client, error) {
	return TryConnectWithTimeout(workspacePath, 500*time.Millisecond)
}

// TryConnectWithTimeout is TryConnect with a caller-chosen dial timeout.
func TryConnectWithTimeout(workspacePath string, dialTimeout time.Duration) (*Client, error) {
	lockDir := filepath.Join(workspacePath, config.DataDirName)
	held, err := lockfile.TryDaemonLock(lockDir)
	if err != nil {
		debug.Logf("daemon lock probe failed: %v", err)
	}
	socketPath := ShortSocketPath(workspacePath)

	if !held {
		// No live daemon. A leftover socket from a crashed one would make
		// the next dial hang, so clear it.
		if _, statErr := os.Stat(socketPath); statErr == nil {
			_ = CleanupSocketDir(socketPath)
		}
		return nil, nil
	}

	conn, err := net.DialTimeout("unix", socketPath, dialTimeout)
	if err != nil {
		// Lock held but socket unreachable: daemon is starting or wedged.
		return nil, fmt.Errorf("daemon is locked but not answering on %s: %w", socketPath, err)
	}
	_ = conn.Close()

	return NewClient(socketPath), nil
}

// SetTimeout overrides the per-call deadline.
func (c *Client) SetTimeout(d time.Duration) {
	if d > 0 {
		c.timeout = d
	}
}

// SetDatabasePath makes every request carry the expected database so the
// engine rejects a workspace mismatch.
func (c *Client) SetDatabasePath(path string) { c.databasePath = path }

// SetActor overrides the audit actor attached to requests.
func (c *Client) SetActor(actor string) { c.actor = actor }

// SocketPath returns the socket this client dials.
func (c *Client) SocketPath() string { return c.socketPath }

// Execute sends one tool request and waits for its response.
func (c *Client) Execute(tool string, args interface{}) (*Response, error) {
	var raw json.RawMessage
	if args != nil {
		data, err := json.Marshal(args)
		if err != nil {
			return nil, fmt.Errorf("failed to encode arguments: %w", err)
		}
		raw = data
	}

	req := Request{
		Tool:          tool,
		Args:          raw,
		Actor:         c.actor,
		RequestID:     uuid.NewString(),
		ClientVersion: ClientVersion,
		ExpectedDB:    c.databasePath,
	}

	conn, err := net.DialTimeout("unix", c.socketPath, c.timeout)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to daemon at %s: %w", c.socketPath, err)
	}
	defer func() { _ = conn.Close() }()

	if err := conn.SetDeadline(time.Now().Add(c.timeout)); err != nil {
		return nil, fmt.Errorf("failed to set deadline: %w", err)
	}

	enc := json.NewEncoder(conn)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(req); err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	if !scanner.Scan() {
		if err := scanner.Err(); err != nil {
			return nil, fmt.Errorf("failed to read response: %w", err)
		}
		return nil, fmt.Errorf("daemon closed the connection without responding")
	}

	var resp Response
	if err := json.Unmarshal(scanner.Bytes(), &resp); err != nil {
		return nil, fmt.Errorf("malformed response: %w", err)
	}
	if resp.RequestID != "" && resp.RequestID != req.RequestID {
		return nil, fmt.Errorf("response for request %s, expected %s", resp.RequestID, req.RequestID)
	}
	return &resp, nil
}

// Call executes a tool and decodes the data payload into out. A failed
// response becomes an error carrying the engine's message.
func (c *Client) Call(tool string, args interface{}, out interface{}) error {
	resp, err := c.Execute(tool, args)
	if err != nil {
		return err
	}
	if !resp.Success {
		if resp.Code != "" {
			return fmt.Errorf("%s: %s", resp.Code, resp.Error)
		}
		return fmt.Errorf("%s", resp.Error)
	}
	if out != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, out); err != nil {
			return fmt.Errorf("failed to decode %s response: %w", tool, err)
		}
	}
	return nil
}

// Ping checks basic liveness.
func (c *Client) Ping() (*PingResponse, error) {
	var out PingResponse
	if err := c.Call(OpPing, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health fetches the engine health report. Unlike Call, a degraded or
// unhealthy engine still returns the report.
func (c *Client) Health() (*HealthResponse, error) {
	resp, err := c.Execute(OpHealth, nil)
	if err != nil {
		return nil, err
	}
	var out HealthResponse
	if len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, &out); err != nil {
			return nil, fmt.Errorf("failed to decode health response: %w", err)
		}
	}
	return &out, nil
}

// Status fetches the daemon status payload.
func (c *Client) Status() (*StatusResponse, error) {
	var out StatusResponse
	if err := c.Call(OpStatus, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Shutdown asks the daemon to exit.
func (c *Client) Shutdown() error {
	return c.Call(OpShutdown, nil, nil)
}
