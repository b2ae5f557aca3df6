package rpc

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// staleSocketDialTimeout bounds how long Server.ensureSocket waits for an
// existing socket file to answer before concluding it's stale (spec §4.8
// startup step 2).
const staleSocketDialTimeout = 200 * time.Millisecond

// connRateLimit and connRateBurst bound one token bucket per connected RPC
// client (SPEC_FULL §2.7): generous enough for legitimate bursts of
// envelope.send/agent.status polling, tight enough to blunt a runaway or
// misbehaving hibossctl hammering the socket.
const (
	connRateLimit = rate.Limit(50)
	connRateBurst = 100
)

// Server is the RPC Server (spec §4.8): a Unix-domain socket accepting
// newline-delimited JSON-RPC 2.0 connections, each dispatched against a
// shared MethodRouter.
type Server struct {
	socketPath string
	router     *MethodRouter
	logger     *slog.Logger

	listener net.Listener

	wg       sync.WaitGroup
	closeMu  sync.Mutex
	closed   bool
}

// New constructs a Server bound to socketPath. logger may be nil.
func New(socketPath string, router *MethodRouter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Server{socketPath: socketPath, router: router, logger: logger}
}

// Listen implements spec §4.8's startup sequence: ensure parent directory,
// detect and clear a stale socket file, listen, and chmod 0600.
func (s *Server) Listen() error {
	if err := os.MkdirAll(filepath.Dir(s.socketPath), 0o700); err != nil {
		return fmt.Errorf("rpc: ensure socket dir: %w", err)
	}

	if err := s.ensureNoLiveInstance(); err != nil {
		return err
	}

	ln, err := net.Listen("unix", s.socketPath)
	if err != nil {
		return fmt.Errorf("rpc: listen %s: %w", s.socketPath, err)
	}
	if err := os.Chmod(s.socketPath, 0o600); err != nil {
		_ = ln.Close()
		return fmt.Errorf("rpc: chmod socket: %w", err)
	}
	s.listener = ln
	return nil
}

// ensureNoLiveInstance probes an existing socket file with a short-timeout
// dial: an answer means another daemon instance is already running
// (spec §4.8 step 2); silence means the file is stale and safe to unlink.
func (s *Server) ensureNoLiveInstance() error {
	if _, err := os.Stat(s.socketPath); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("rpc: stat socket: %w", err)
	}

	conn, err := net.DialTimeout("unix", s.socketPath, staleSocketDialTimeout)
	if err == nil {
		_ = conn.Close()
		return errors.New("rpc: daemon already running")
	}

	if rmErr := os.Remove(s.socketPath); rmErr != nil && !os.IsNotExist(rmErr) {
		return fmt.Errorf("rpc: remove stale socket: %w", rmErr)
	}
	return nil
}

// Serve accepts connections until ctx is cancelled or Close is called.
// Each connection is handled on its own goroutine; Serve blocks until all
// connections have drained.
func (s *Server) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = s.Close()
	}()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			s.wg.Wait()
			if s.isClosed() {
				return nil
			}
			return err
		}
		s.wg.Add(1)
		go s.handleConn(conn)
	}
}

func (s *Server) isClosed() bool {
	s.closeMu.Lock()
	defer s.closeMu.Unlock()
	return s.closed
}

// Close stops accepting new connections and removes the socket file.
// Already-open connections are left to finish their in-flight requests.
func (s *Server) Close() error {
	s.closeMu.Lock()
	if s.closed {
		s.closeMu.Unlock()
		return nil
	}
	s.closed = true
	s.closeMu.Unlock()

	if s.listener != nil {
		_ = s.listener.Close()
	}
	_ = os.Remove(s.socketPath)
	return nil
}

// handleConn implements spec §4.8's per-connection behavior: read
// newline-delimited frames, dispatch each concurrently, write one response
// frame per request. A malformed frame or socket error drops only this
// connection.
func (s *Server) handleConn(conn net.Conn) {
	defer s.wg.Done()
	defer conn.Close()

	limiter := rate.NewLimiter(connRateLimit, connRateBurst)
	var writeMu sync.Mutex
	var inflight sync.WaitGroup

	scanner := bufio.NewScanner(conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 8*1024*1024)

	ctx := context.Background()
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		frame := make([]byte, len(line))
		copy(frame, line)

		if err := limiter.Wait(ctx); err != nil {
			break
		}

		var req Request
		if err := json.Unmarshal(frame, &req); err != nil {
			writeFrame(conn, &writeMu, NewErrorResponse(nil, CodeParseError, "parse error: "+err.Error()))
			continue
		}
		if req.Method == "" {
			writeFrame(conn, &writeMu, NewErrorResponse(req.ID, CodeInvalidRequest, "missing method"))
			continue
		}

		inflight.Add(1)
		go func(req Request) {
			defer inflight.Done()
			resp := s.router.Dispatch(ctx, req)
			writeFrame(conn, &writeMu, resp)
		}(req)
	}
	if err := scanner.Err(); err != nil {
		s.logger.Warn("rpc: connection read error", "error", err)
	}
	inflight.Wait()
}

func writeFrame(conn net.Conn, writeMu *sync.Mutex, resp Response) {
	b, err := json.Marshal(resp)
	if err != nil {
		return
	}
	b = append(b, '\n')
	writeMu.Lock()
	defer writeMu.Unlock()
	_, _ = conn.Write(b)
}
