package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/untoldecay/ContextKeeper/internal/compact"
	"github.com/untoldecay/ContextKeeper/internal/config"
	"github.com/untoldecay/ContextKeeper/internal/debug"
	"github.com/untoldecay/ContextKeeper/internal/embedding"
	"github.com/untoldecay/ContextKeeper/internal/export"
	"github.com/untoldecay/ContextKeeper/internal/session"
	"github.com/untoldecay/ContextKeeper/internal/storage"
	"github.com/untoldecay/ContextKeeper/internal/types"
	"github.com/untoldecay/ContextKeeper/internal/watch"
)

// ServerVersion is overridden by the daemon startup from the CLI version
// so the client/server gate compares real releases.
var ServerVersion = "0.0.0"

// maxLineBytes bounds one request or response line. Values cap at 1 MiB,
// so 4 MiB leaves room for batches and envelope overhead.
const maxLineBytes = 4 << 20

// Server dispatches tool requests against one store. The same instance
// serves stdio and the unix socket; only the transport differs.
type Server struct {
	socketPath    string
	workspacePath string

	store    storage.Store
	sessions *session.Manager
	hub      *watch.Hub
	compact  *compact.Compactor
	exporter *export.Exporter
	embedder embedding.Store

	listener net.Listener
	mu       sync.RWMutex
	shutdown bool

	shutdownChan chan struct{}
	stopOnce     sync.Once
	readyChan    chan struct{}

	startTime        time.Time
	lastActivityTime atomic.Value // time.Time

	maxConns      int
	activeConns   int32
	connSemaphore chan struct{}

	requestTimeout time.Duration

	// projectDir is the process-wide default working directory for git
	// tracking, set by set_project_dir.
	projectDir atomic.Value // string
}

// NewServer wires the engine around an open store. socketPath may be
// empty for stdio-only serving.
func NewServer(socketPath string, store storage.Store, workspacePath string) *Server {
	requestTimeout := config.GetDuration("request-timeout")
	if requestTimeout <= 0 {
		requestTimeout = 30 * time.Second
	}

	maxConns := config.GetInt("daemon.max-conns")
	if maxConns <= 0 {
		maxConns = 100
	}

	hub := watch.NewHub(
		watch.WithBuffer(config.GetInt("watch.buffer")),
		watch.WithIdleTTL(config.GetDuration("watch.idle-ttl")),
	)

	compactor, err := compact.New(store, &compact.Config{
		APIKey:       config.GetString("compress.api-key"),
		Concurrency:  config.GetInt("compress.concurrency"),
		Narrative:    config.GetBool("compress.narrative"),
		AuditEnabled: true,
		Actor:        config.Actor(""),
	})
	if err != nil {
		// Only reachable on narrator misconfiguration; fall back to
		// deterministic summaries.
		debug.Logf("narrator unavailable: %v", err)
		compactor, _ = compact.New(store, nil)
	}

	s := &Server{
		socketPath:     socketPath,
		workspacePath:  workspacePath,
		store:          store,
		sessions:       session.NewManager(store),
		hub:            hub,
		compact:        compactor,
		exporter:       export.New(store),
		embedder:       embedding.Noop{},
		shutdownChan:   make(chan struct{}),
		readyChan:      make(chan struct{}),
		startTime:      time.Now(),
		maxConns:       maxConns,
		connSemaphore:  make(chan struct{}, maxConns),
		requestTimeout: requestTimeout,
	}
	s.lastActivityTime.Store(time.Now())
	s.projectDir.Store(workspacePath)
	return s
}

// Sessions exposes the session manager for in-process callers.
func (s *Server) Sessions() *session.Manager { return s.sessions }

// Hub exposes the watch hub for daemon wiring.
func (s *Server) Hub() *watch.Hub { return s.hub }

// SetEmbedder replaces the semantic-index collaborator.
func (s *Server) SetEmbedder(e embedding.Store) {
	if e != nil {
		s.embedder = e
	}
}

// WaitReady closes once the socket listener is accepting.
func (s *Server) WaitReady() <-chan struct{} { return s.readyChan }

// Dispatch executes one request in-process. The CLI uses this in direct
// mode, where no daemon owns the store.
func (s *Server) Dispatch(req *Request) Response { return s.handleRequest(req) }

// LastActivity reports when the engine last dispatched a request, for
// the daemon idle timer.
func (s *Server) LastActivity() time.Time {
	t, _ := s.lastActivityTime.Load().(time.Time)
	return t
}

// Start listens on the unix socket and serves until Stop or ctx cancel.
func (s *Server) Start(ctx context.Context) error {
	if s.socketPath == "" {
		return fmt.Errorf("no socket path configured")
	}
	if _, err := EnsureSocketDir(s.socketPath); err != nil {
		return fmt.Errorf("failed to prepare socket directory: %w", err)
	}
	// A previous daemon that crashed leaves the socket file behind; the
	// daemon lock already proved no one is serving it.
	_ = os.Remove(s.socketPath)

	listener, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.socketPath, err)
	}
	s.mu.Lock()
	s.listener = listener
	s.mu.Unlock()
	close(s.readyChan)

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go s.hub.Run(sweepCtx)

	go func() {
		select {
		case <-ctx.Done():
		case <-s.shutdownChan:
		}
		_ = listener.Close()
	}()

	var wg sync.WaitGroup
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
			case <-s.shutdownChan:
			default:
				wg.Wait()
				return fmt.Errorf("accept failed: %w", err)
			}
			wg.Wait()
			return nil
		}

		select {
		case s.connSemaphore <- struct{}{}:
		case <-s.shutdownChan:
			_ = conn.Close()
			wg.Wait()
			return nil
		}

		wg.Add(1)
		atomic.AddInt32(&s.activeConns, 1)
		go func(conn net.Conn) {
			defer func() {
				atomic.AddInt32(&s.activeConns, -1)
				<-s.connSemaphore
				wg.Done()
			}()
			s.serveConn(conn)
		}(conn)
	}
}

// ServeStdio serves one request stream over r/w, for `ck serve`. Returns
// when the stream ends or the server shuts down.
func (s *Server) ServeStdio(ctx context.Context, r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-s.shutdownChan:
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.dispatchLine(line)
		if err := enc.Encode(resp); err != nil {
			return fmt.Errorf("failed to write response: %w", err)
		}
	}
	return scanner.Err()
}

func (s *Server) serveConn(conn net.Conn) {
	defer func() { _ = conn.Close() }()

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 64*1024), maxLineBytes)
	writer := bufio.NewWriter(conn)
	enc := json.NewEncoder(writer)
	enc.SetEscapeHTML(false)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		resp := s.dispatchLine(line)
		if err := enc.Encode(resp); err != nil {
			debug.Logf("failed to write response: %v", err)
			return
		}
		if err := writer.Flush(); err != nil {
			debug.Logf("failed to flush response: %v", err)
			return
		}
		select {
		case <-s.shutdownChan:
			return
		default:
		}
	}
}

func (s *Server) dispatchLine(line []byte) Response {
	var req Request
	if err := json.Unmarshal(line, &req); err != nil {
		return Response{
			Success: false,
			Error:   fmt.Sprintf("malformed request: %v", err),
			Code:    "InvalidArgument",
		}
	}
	return s.handleRequest(&req)
}

// Stop shuts the server down: wakes polls, closes the listener, removes
// the socket. Safe to call more than once.
func (s *Server) Stop() error {
	var err error
	s.stopOnce.Do(func() {
		s.mu.Lock()
		s.shutdown = true
		listener := s.listener
		s.mu.Unlock()

		close(s.shutdownChan)
		s.hub.Close()
		if listener != nil {
			_ = listener.Close()
			err = CleanupSocketDir(s.socketPath)
		}
	})
	return err
}

// publishEvent hands one committed mutation to the watcher hub and the
// embedding collaborator. Both are post-commit and never fail the write.
func (s *Server) publishEvent(evType types.EventType, item *types.ContextItem) {
	if item == nil {
		return
	}
	s.hub.Publish(mutationEvent(evType, item))
	if evType != types.EventDeleted {
		s.forwardEmbedding(item)
	}
}

func mutationEvent(evType types.EventType, item *types.ContextItem) *types.MutationEvent {
	return &types.MutationEvent{
		Type:      evType,
		SessionID: item.SessionID,
		ItemID:    item.ID,
		Key:       item.Key,
		Category:  item.Category,
		Channel:   item.Channel,
		Priority:  item.Priority,
		IsPrivate: item.IsPrivate,
		Timestamp: time.Now().UTC(),
	}
}

func (s *Server) forwardEmbedding(item *types.ContextItem) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := s.embedder.StoreDocument(ctx, item.ID, item.Value, map[string]string{
		"session_id": item.SessionID,
		"key":        item.Key,
		"category":   string(item.Category),
	}); err != nil {
		debug.Logf("embedding forward failed for %s: %v", item.Key, err)
	}
}
