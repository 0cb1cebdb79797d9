// Package calculator is a small demo service used by the minirpc CLI and the
// end-to-end tests.
package calculator

import (
	"context"
	"errors"

	"mini-rpc/client"
	"mini-rpc/proxy"
	"mini-rpc/registry"
)

// ServiceName is the name the calculator is registered under.
const ServiceName = "Calculator"

// ErrDivideByZero is returned by Div when the divisor is zero.
var ErrDivideByZero = errors.New("divide by zero")

// Calculator implements the service.
type Calculator struct{}

func (Calculator) Add(_ context.Context, a, b int) (int, error) { return a + b, nil }

func (Calculator) Sub(_ context.Context, a, b int) (int, error) { return a - b, nil }

func (Calculator) Mul(_ context.Context, a, b int) (int, error) { return a * b, nil }

func (Calculator) Div(_ context.Context, a, b int) (int, error) {
	if b == 0 {
		return 0, ErrDivideByZero
	}
	return a / b, nil
}

// Sum adds up a list of numbers.
func (Calculator) Sum(_ context.Context, xs []int) (int, error) {
	total := 0
	for _, x := range xs {
		total += x
	}
	return total, nil
}

// NewService builds the method table for calc.
func NewService(calc Calculator) *registry.Service {
	svc := registry.NewService(ServiceName)
	registry.Method2(svc, "Add", calc.Add)
	registry.Method2(svc, "Sub", calc.Sub)
	registry.Method2(svc, "Mul", calc.Mul)
	registry.Method2(svc, "Div", calc.Div)
	registry.Method1(svc, "Sum", calc.Sum)
	return svc
}

// Client is the typed façade over a remote Calculator.
type Client struct {
	Add func(ctx context.Context, a, b int) (int, error)
	Sub func(ctx context.Context, a, b int) (int, error)
	Mul func(ctx context.Context, a, b int) (int, error)
	Div func(ctx context.Context, a, b int) (int, error)
	Sum func(ctx context.Context, xs []int) (int, error)
}

// NewClient binds a façade to c.
func NewClient(c *client.Client, opts ...proxy.Option) *Client {
	p := proxy.New(c, ServiceName, opts...)
	return &Client{
		Add: proxy.Func2[int, int, int](p, "Add"),
		Sub: proxy.Func2[int, int, int](p, "Sub"),
		Mul: proxy.Func2[int, int, int](p, "Mul"),
		Div: proxy.Func2[int, int, int](p, "Div"),
		Sum: proxy.Func1[[]int, int](p, "Sum"),
	}
}

// Binary returns the two-operand operation called name, or nil.
func (c *Client) Binary(name string) func(ctx context.Context, a, b int) (int, error) {
	switch name {
	case "Add", "add":
		return c.Add
	case "Sub", "sub":
		return c.Sub
	case "Mul", "mul":
		return c.Mul
	case "Div", "div":
		return c.Div
	}
	return nil
}
