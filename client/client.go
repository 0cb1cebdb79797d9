// Package client is the caller side of mini-rpc: it owns one connection to a
// server and turns (service, method, arguments) into a blocking round trip.
package client

import (
	"context"
	"net"
	"time"

	"go.uber.org/zap"

	"mini-rpc/codec"
	"mini-rpc/message"
	"mini-rpc/protocol"
	"mini-rpc/registry"
	"mini-rpc/transport"
)

// DefaultTimeout bounds a call when no other timeout is configured.
const DefaultTimeout = 5 * time.Second

// Arg is one call argument together with its declared parameter type name.
type Arg struct {
	Type  string
	Value any
}

// ArgOf declares v as an argument of type T.
func ArgOf[T any](v T) Arg {
	return Arg{Type: registry.TypeName[T](), Value: v}
}

// Client issues calls over a single multiplexed connection.
type Client struct {
	ct      *transport.ClientTransport
	codec   codec.Codec
	timeout time.Duration
	logger  *zap.Logger
}

// Option configures a Client.
type Option func(*options)

type options struct {
	codec      codec.Codec
	timeout    time.Duration
	logger     *zap.Logger
	heartbeat  time.Duration
	maxPayload uint32
}

// WithCodec sets the payload codec. It must match the server's. Default JSON.
func WithCodec(c codec.Codec) Option {
	return func(o *options) { o.codec = c }
}

// WithTimeout sets the per-call timeout. Non-positive values keep DefaultTimeout;
// every call is bounded.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		if d > 0 {
			o.timeout = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHeartbeat sends a keepalive frame every d. Zero disables heartbeats.
func WithHeartbeat(d time.Duration) Option {
	return func(o *options) { o.heartbeat = d }
}

// WithMaxPayload bounds the size of responses the client accepts.
func WithMaxPayload(n uint32) Option {
	return func(o *options) { o.maxPayload = n }
}

// Dial connects to a server at addr over TCP.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, err
	}
	return New(conn, opts...), nil
}

// New wraps an established connection. The client owns conn from then on.
func New(conn net.Conn, opts ...Option) *Client {
	o := &options{
		codec:      &codec.JSONCodec{},
		timeout:    DefaultTimeout,
		logger:     zap.NewNop(),
		maxPayload: protocol.DefaultMaxPayload,
	}
	for _, opt := range opts {
		opt(o)
	}
	fc := protocol.NewFrameCodec(o.codec, o.maxPayload)
	return &Client{
		ct: transport.NewClientTransport(conn, fc, transport.Config{
			Logger:            o.logger,
			HeartbeatInterval: o.heartbeat,
		}),
		codec:   o.codec,
		timeout: o.timeout,
		logger:  o.logger,
	}
}

// Call invokes service.method with args using the client's default timeout
// and returns the encoded result.
//
// A failure reported by the server is returned as a *message.Error; local
// failures are transport errors such as transport.ErrTimeout.
func (c *Client) Call(ctx context.Context, service, method string, args ...Arg) ([]byte, error) {
	return c.CallTimeout(ctx, c.timeout, service, method, args...)
}

// CallTimeout is Call with an explicit timeout. A non-positive timeout falls
// back to the client's.
func (c *Client) CallTimeout(ctx context.Context, timeout time.Duration, service, method string, args ...Arg) ([]byte, error) {
	if timeout <= 0 {
		timeout = c.timeout
	}
	req := &message.Request{
		Service:  service,
		Method:   method,
		ArgTypes: make([]string, len(args)),
		Args:     make([][]byte, len(args)),
	}
	for i, a := range args {
		b, err := c.codec.Encode(a.Value)
		if err != nil {
			return nil, message.Wrap(message.CodeBadRequest, "encode argument", err)
		}
		req.ArgTypes[i] = a.Type
		req.Args[i] = b
	}

	resp, err := c.ct.Call(ctx, req, timeout)
	if err != nil {
		return nil, err
	}
	if !resp.OK() {
		return nil, resp.Error
	}
	return resp.Result, nil
}

// Codec returns the payload codec used to encode arguments and decode results.
func (c *Client) Codec() codec.Codec {
	return c.codec
}

// Active reports whether the connection is still usable.
func (c *Client) Active() bool {
	return c.ct.Active()
}

// Pending returns the number of calls awaiting a response.
func (c *Client) Pending() int {
	return c.ct.Pending()
}

// Close closes the connection. In-flight calls fail with
// transport.ErrConnectionClosed.
func (c *Client) Close() error {
	return c.ct.Close()
}
