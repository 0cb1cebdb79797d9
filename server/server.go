// Package server implements the RPC server: service registration, middleware
// chain, parallel request processing, and graceful shutdown.
//
// Request processing pipeline:
//
//	Accept conn → handleConn (single goroutine reads and decodes frames)
//	  → for each request: go handleRequest (parallel processing)
//	    → Dispatcher: Middleware Chain → registry lookup → method table invoke → encode → write response
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"mini-rpc/codec"
	"mini-rpc/message"
	"mini-rpc/middleware"
	"mini-rpc/protocol"
	"mini-rpc/registry"
)

const readBufferSize = 32 << 10

// errShuttingDown answers requests that arrive after Shutdown has begun.
var errShuttingDown = message.NewError(message.CodeInternal, "server shutting down")

// Server is the RPC server that registers services and handles incoming requests.
type Server struct {
	registry    *registry.Registry
	fc          *protocol.FrameCodec
	logger      *zap.Logger
	middlewares []middleware.Middleware // Registered middlewares (applied in order)
	dispatcher  *Dispatcher             // Built once at Serve, not per request
	conns       sync.Map                // Live connections, closed on Shutdown
	wg          sync.WaitGroup          // Tracks in-flight requests for graceful shutdown

	mu       sync.Mutex
	listener net.Listener
	closing  bool // No request is admitted to wg once set

	ctx       context.Context
	cancel    context.CancelFunc
	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Server.
type Option func(*options)

type options struct {
	codec      codec.Codec
	logger     *zap.Logger
	maxPayload uint32
	registry   *registry.Registry
}

// WithCodec sets the payload codec. Clients must use the same one. Default JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithLogger sets the server logger. Default is a no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMaxPayload bounds the payload size accepted from clients.
func WithMaxPayload(n uint32) Option {
	return func(o *options) { o.maxPayload = n }
}

// WithRegistry serves services from an existing registry.
func WithRegistry(r *registry.Registry) Option {
	return func(o *options) { o.registry = r }
}

// NewServer creates a new RPC server with an empty registry.
func NewServer(opts ...Option) *Server {
	o := &options{
		codec:      &codec.JSONCodec{},
		logger:     zap.NewNop(),
		maxPayload: protocol.DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.registry == nil {
		o.registry = registry.New(registry.WithLogger(o.logger))
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Server{
		registry: o.registry,
		fc:       protocol.NewFrameCodec(o.codec, o.maxPayload),
		logger:   o.logger,
		ctx:      ctx,
		cancel:   cancel,
		ready:    make(chan struct{}),
	}
}

// RegisterService makes svc callable by clients. Call it before Serve.
func (svr *Server) RegisterService(svc *registry.Service) error {
	return svr.registry.Register(svc)
}

// Registry returns the server's service registry.
func (svr *Server) Registry() *registry.Registry {
	return svr.registry
}

// Use registers a middleware. Middlewares are applied in the order they are added.
func (svr *Server) Use(mw middleware.Middleware) {
	svr.middlewares = append(svr.middlewares, mw)
}

// Serve listens on the given address and handles connections until Shutdown.
func (svr *Server) Serve(network, address string) error {
	listener, err := net.Listen(network, address)
	if err != nil {
		return err
	}
	return svr.ServeListener(listener)
}

// ServeListener accepts connections on l until Shutdown. It returns nil after
// a Shutdown and the Accept error otherwise.
func (svr *Server) ServeListener(l net.Listener) error {
	svr.mu.Lock()
	if svr.closing {
		svr.mu.Unlock()
		_ = l.Close()
		return nil
	}
	svr.listener = l
	svr.dispatcher = NewDispatcher(svr.registry, svr.fc.Codec(), svr.logger, svr.middlewares...)
	svr.mu.Unlock()
	svr.readyOnce.Do(func() { close(svr.ready) })
	svr.logger.Info("serving",
		zap.Stringer("addr", l.Addr()),
		zap.Stringer("codec", svr.fc.Codec().Type()),
		zap.Strings("services", svr.registry.Names()))

	// Accept loop: one goroutine per connection
	for {
		conn, err := l.Accept()
		if err != nil {
			// During shutdown, listener.Close() causes Accept to return an error.
			if svr.shuttingDown() {
				return nil
			}
			return err
		}
		go svr.handleConn(conn)
	}
}

// Addr returns the listen address once serving has started, nil before.
func (svr *Server) Addr() net.Addr {
	select {
	case <-svr.ready:
		return svr.listener.Addr()
	default:
		return nil
	}
}

// Dispatcher returns the dispatcher built by Serve, nil before.
func (svr *Server) Dispatcher() *Dispatcher {
	select {
	case <-svr.ready:
		return svr.dispatcher
	default:
		return nil
	}
}

// handleConn processes a single TCP connection.
// It runs a read loop in a single goroutine (reads must be sequential to parse frame boundaries),
// but dispatches each request to its own goroutine for parallel processing.
//
// A per-connection write mutex is shared among all request goroutines on this connection,
// preventing frame interleaving when several responses are written concurrently.
func (svr *Server) handleConn(conn net.Conn) {
	svr.conns.Store(conn, struct{}{})
	defer svr.conns.Delete(conn)
	defer conn.Close()

	logger := svr.logger.With(zap.Stringer("remote", conn.RemoteAddr()))
	writeMu := &sync.Mutex{}
	dec := svr.fc.NewDecoder()
	buf := make([]byte, readBufferSize)
	for {
		n, err := conn.Read(buf)
		if n > 0 {
			msgs, ferr := dec.Feed(buf[:n])
			for i := range msgs {
				svr.route(conn, writeMu, &msgs[i], logger)
			}
			if ferr != nil {
				// No resynchronization: the connection is dropped.
				logger.Warn("closing connection on framing error", zap.Error(ferr))
				return
			}
		}
		if err != nil {
			if !errors.Is(err, net.ErrClosed) {
				logger.Debug("connection closed", zap.Error(err))
			}
			return
		}
	}
}

func (svr *Server) route(conn net.Conn, writeMu *sync.Mutex, m *protocol.Message, logger *zap.Logger) {
	switch m.Header.Kind {
	case protocol.KindHeartbeat:
		// Heartbeats exist only to keep the connection alive.
	case protocol.KindRequest:
		if !svr.admit() {
			svr.writeResponse(conn, writeMu, message.NewFailure(m.Header.CallID, errShuttingDown), logger)
			return
		}
		if m.Err != nil {
			// The frame was intact, so the client is still waiting on this call id.
			logger.Warn("undecodable request", zap.Uint64("call_id", m.Header.CallID), zap.Error(m.Err))
			resp := message.NewFailure(m.Header.CallID, message.Wrap(message.CodeBadRequest, "malformed request", m.Err))
			go func() {
				defer svr.wg.Done()
				svr.writeResponse(conn, writeMu, resp, logger)
			}()
			return
		}
		// Dispatch on a new goroutine so a slow handler does not hold up the
		// rest of the connection.
		go svr.handleRequest(conn, writeMu, m.Request, logger)
	default:
		logger.Warn("unexpected frame from client", zap.Stringer("kind", m.Header.Kind), zap.Uint64("call_id", m.Header.CallID))
	}
}

// admit registers one in-flight request with the shutdown WaitGroup. It
// fails once Shutdown has begun, so wg.Add never races wg.Wait.
func (svr *Server) admit() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	if svr.closing {
		return false
	}
	svr.wg.Add(1)
	return true
}

func (svr *Server) shuttingDown() bool {
	svr.mu.Lock()
	defer svr.mu.Unlock()
	return svr.closing
}

// handleRequest runs one request through the dispatcher and writes its response.
func (svr *Server) handleRequest(conn net.Conn, writeMu *sync.Mutex, req *message.Request, logger *zap.Logger) {
	defer svr.wg.Done()
	resp := svr.dispatcher.HandleIncomingRequest(svr.ctx, req)
	svr.writeResponse(conn, writeMu, resp, logger)
}

func (svr *Server) writeResponse(conn net.Conn, writeMu *sync.Mutex, resp *message.Response, logger *zap.Logger) {
	frame, err := svr.fc.EncodeResponse(resp)
	if err != nil {
		// Typically an oversized result; the caller still gets an answer.
		logger.Error("failed to encode response", zap.Uint64("call_id", resp.CallID), zap.Error(err))
		frame, err = svr.fc.EncodeResponse(message.NewFailure(resp.CallID,
			message.Wrap(message.CodeInternal, "encode response", err)))
		if err != nil {
			logger.Error("failed to encode failure response", zap.Uint64("call_id", resp.CallID), zap.Error(err))
			return
		}
	}

	writeMu.Lock()
	defer writeMu.Unlock()
	if _, err := conn.Write(frame); err != nil {
		logger.Debug("failed to write response", zap.Uint64("call_id", resp.CallID), zap.Error(err))
	}
}

// Shutdown performs graceful shutdown:
//  1. Stop admitting requests (later ones are answered with "server shutting down")
//  2. Close the listener (stop accepting new connections)
//  3. Wait for in-flight requests to finish (with timeout)
//  4. Close every remaining connection
//
// A Serve that starts after Shutdown returns immediately.
func (svr *Server) Shutdown(timeout time.Duration) error {
	// Set the flag BEFORE closing the listener, otherwise Serve may see the
	// Accept error first and report it as a real failure.
	svr.mu.Lock()
	svr.closing = true
	listener := svr.listener
	svr.mu.Unlock()

	var err error
	if listener != nil {
		if cerr := listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
	}

	done := make(chan struct{})
	go func() {
		svr.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(timeout):
		err = multierr.Append(err, fmt.Errorf("timeout waiting for ongoing requests to finish"))
	}
	svr.cancel()

	svr.conns.Range(func(key, _ any) bool {
		if cerr := key.(net.Conn).Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = multierr.Append(err, cerr)
		}
		return true
	})
	return err
}
