package ipc

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"keyflow/internal/workerutil"
)

const (
	// connTimeout bounds one request/response exchange.
	connTimeout     = 30 * time.Second
	maxRequestBytes = 64 * 1024
	// maxInFlight requests are served at once; a client waits up to
	// slotWait for a free slot before it is told the daemon is busy.
	maxInFlight = 16
	slotWait    = 5 * time.Second
	// acceptFailureLimit consecutive Accept errors switch the loop from
	// retrying immediately to pausing acceptPause between attempts.
	acceptFailureLimit = 10
	acceptPause        = 500 * time.Millisecond
)

// Server receives control requests from keyflowctl.
type Server struct {
	endpoint string
	router   CommandExecutor

	ctx    context.Context
	cancel context.CancelFunc

	mu       sync.Mutex
	listener net.Listener
	started  bool
	wg       sync.WaitGroup
	inFlight *semaphore.Weighted
}

// NewServer constructs a Server. An empty endpoint selects DefaultEndpoint.
func NewServer(endpoint string, router CommandExecutor) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	if endpoint == "" {
		endpoint = DefaultEndpoint()
	}
	return &Server{
		endpoint: endpoint,
		router:   router,
		ctx:      ctx,
		cancel:   cancel,
		inFlight: semaphore.NewWeighted(maxInFlight),
	}
}

// Endpoint returns the listen endpoint.
func (s *Server) Endpoint() string {
	return s.endpoint
}

// Start begins listening.
func (s *Server) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return errors.New("ipc server already started")
	}
	if s.router == nil {
		return errors.New("ipc server requires router")
	}

	listener, err := listen(s.endpoint)
	if err != nil {
		return fmt.Errorf("listen %s: %w", s.endpoint, err)
	}

	s.listener = listener
	s.started = true
	s.wg.Go(s.acceptLoop)
	slog.Info("[ipc] control channel listening", "endpoint", s.endpoint)
	return nil
}

// Stop closes the listener and waits for in-flight requests.
func (s *Server) Stop() error {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	s.cancel()
	listener := s.listener
	s.listener = nil
	s.mu.Unlock()

	if listener != nil {
		if err := listener.Close(); err != nil {
			slog.Warn("[ipc] failed to close listener during shutdown", "error", err)
		}
	}
	s.wg.Wait()
	return nil
}

func (s *Server) acceptLoop() {
	failures := 0
	for {
		s.mu.Lock()
		listener := s.listener
		s.mu.Unlock()
		if listener == nil {
			return
		}

		conn, err := listener.Accept()
		if err != nil {
			if s.ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return
			}
			failures++
			if failures <= acceptFailureLimit {
				slog.Debug("[ipc] accept error", "error", err)
				continue
			}
			slog.Warn("[ipc] accept keeps failing", "error", err, "count", failures)
			select {
			case <-s.ctx.Done():
				return
			case <-time.After(acceptPause):
			}
			continue
		}
		failures = 0

		if !s.acquireSlot() {
			s.writeResponse(conn, Failure("server busy, try again later"))
			if closeErr := conn.Close(); closeErr != nil {
				slog.Debug("[ipc] failed to close rejected connection", "error", closeErr)
			}
			continue
		}
		s.wg.Go(func() {
			defer s.inFlight.Release(1)
			s.handleConnection(conn)
		})
	}
}

// handleConnection serves one request per connection under a deadline.
func (s *Server) handleConnection(conn net.Conn) {
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(connTimeout)); err != nil {
		slog.Warn("[ipc] failed to set connection deadline", "error", err)
		return
	}

	reader := bufio.NewReaderSize(conn, maxRequestBytes+1)
	rawReq, err := readDelimitedFrame(reader, maxRequestBytes)
	if errors.Is(err, io.EOF) {
		slog.Debug("[ipc] client disconnected without sending data")
		return
	}
	if err != nil {
		s.writeResponse(conn, Failure(fmt.Sprintf("invalid request: %v", err)))
		return
	}

	req, err := decodeRequest(rawReq)
	if err != nil {
		s.writeResponse(conn, Failure(fmt.Sprintf("invalid request: %v", err)))
		return
	}

	slog.Debug("[ipc] received request", "command", req.Command, "args", req.Args)

	var resp Response
	if err := workerutil.CallWithRecovery("ipc-handler", func() error {
		resp = s.router.Execute(req)
		return nil
	}); err != nil {
		resp = Failure("internal error")
	}
	s.writeResponse(conn, resp)
}

func (s *Server) writeResponse(conn net.Conn, resp Response) {
	rawResp, err := encodeResponse(resp)
	if err != nil {
		slog.Warn("[ipc] failed to encode response", "error", err, "exitCode", resp.ExitCode)
		rawResp = []byte(`{"exit_code":1,"stderr":"internal encode error\n"}`)
	}
	if _, err := conn.Write(append(rawResp, '\n')); err != nil {
		slog.Debug("[ipc] failed to write response", "error", err)
	}
}

// acquireSlot waits up to slotWait for a free request slot.
func (s *Server) acquireSlot() bool {
	ctx, cancel := context.WithTimeout(s.ctx, slotWait)
	defer cancel()
	if err := s.inFlight.Acquire(ctx, 1); err != nil {
		if s.ctx.Err() == nil {
			slog.Warn("[ipc] all request slots busy, rejecting client", "inFlight", maxInFlight)
		}
		return false
	}
	return true
}
