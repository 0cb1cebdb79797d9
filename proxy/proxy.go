// Package proxy builds typed client façades over a Client.
//
// Go has no runtime interface synthesis, so a façade is a struct of function
// fields, each produced by one of the generic FuncN helpers:
//
//	type Calculator struct {
//		Add func(ctx context.Context, a, b int) (int, error)
//	}
//
//	p := proxy.New(c, "Calculator")
//	calc := Calculator{Add: proxy.Func2[int, int, int](p, "Add")}
//	sum, err := calc.Add(ctx, 10, 20)
//
// The declared parameter types come from the type arguments, so they are
// resolved once when the façade is built.
package proxy

import (
	"context"
	"time"

	"mini-rpc/client"
	"mini-rpc/message"
	"mini-rpc/registry"
)

// Proxy binds a Client to one remote service.
type Proxy struct {
	client  *client.Client
	service string
	timeout time.Duration
}

// Option configures a Proxy.
type Option func(*Proxy)

// WithTimeout overrides the client's default timeout for calls made through
// the proxy. Non-positive values are ignored.
func WithTimeout(d time.Duration) Option {
	return func(p *Proxy) {
		if d > 0 {
			p.timeout = d
		}
	}
}

// New returns a proxy for service. Calls use the client's timeout unless
// WithTimeout is given.
func New(c *client.Client, service string, opts ...Option) *Proxy {
	p := &Proxy{client: c, service: service}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Service returns the remote service name.
func (p *Proxy) Service() string {
	return p.service
}

func (p *Proxy) call(ctx context.Context, method string, args ...client.Arg) ([]byte, error) {
	if p.timeout <= 0 {
		return p.client.Call(ctx, p.service, method, args...)
	}
	return p.client.CallTimeout(ctx, p.timeout, p.service, method, args...)
}

func decode[R any](p *Proxy, out []byte) (R, error) {
	var r R
	if err := p.client.Codec().Decode(out, &r); err != nil {
		return r, message.Wrap(message.CodeInternal, "decode result", err)
	}
	return r, nil
}

func arg(typeName string, v any) client.Arg {
	return client.Arg{Type: typeName, Value: v}
}

// Invoke0 calls method() and decodes the result into R.
func Invoke0[R any](ctx context.Context, p *Proxy, method string) (R, error) {
	return Func0[R](p, method)(ctx)
}

// Invoke1 calls method(a) and decodes the result into R.
func Invoke1[A, R any](ctx context.Context, p *Proxy, method string, a A) (R, error) {
	return Func1[A, R](p, method)(ctx, a)
}

// Invoke2 calls method(a, b) and decodes the result into R.
func Invoke2[A, B, R any](ctx context.Context, p *Proxy, method string, a A, b B) (R, error) {
	return Func2[A, B, R](p, method)(ctx, a, b)
}

// Invoke3 calls method(a, b, c) and decodes the result into R.
func Invoke3[A, B, C, R any](ctx context.Context, p *Proxy, method string, a A, b B, c C) (R, error) {
	return Func3[A, B, C, R](p, method)(ctx, a, b, c)
}

// Func0 returns a typed stub for method().
func Func0[R any](p *Proxy, method string) func(context.Context) (R, error) {
	return func(ctx context.Context) (R, error) {
		out, err := p.call(ctx, method)
		if err != nil {
			var zero R
			return zero, err
		}
		return decode[R](p, out)
	}
}

// Func1 returns a typed stub for method(A).
func Func1[A, R any](p *Proxy, method string) func(context.Context, A) (R, error) {
	ta := registry.TypeName[A]()
	return func(ctx context.Context, a A) (R, error) {
		out, err := p.call(ctx, method, arg(ta, a))
		if err != nil {
			var zero R
			return zero, err
		}
		return decode[R](p, out)
	}
}

// Func2 returns a typed stub for method(A, B).
func Func2[A, B, R any](p *Proxy, method string) func(context.Context, A, B) (R, error) {
	ta, tb := registry.TypeName[A](), registry.TypeName[B]()
	return func(ctx context.Context, a A, b B) (R, error) {
		out, err := p.call(ctx, method, arg(ta, a), arg(tb, b))
		if err != nil {
			var zero R
			return zero, err
		}
		return decode[R](p, out)
	}
}

// Func3 returns a typed stub for method(A, B, C).
func Func3[A, B, C, R any](p *Proxy, method string) func(context.Context, A, B, C) (R, error) {
	ta, tb, tc := registry.TypeName[A](), registry.TypeName[B](), registry.TypeName[C]()
	return func(ctx context.Context, a A, b B, c C) (R, error) {
		out, err := p.call(ctx, method, arg(ta, a), arg(tb, b), arg(tc, c))
		if err != nil {
			var zero R
			return zero, err
		}
		return decode[R](p, out)
	}
}
