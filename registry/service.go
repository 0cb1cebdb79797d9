package registry

import (
	"context"
	"fmt"
	"reflect"
	"sort"
	"strings"

	"mini-rpc/codec"
	"mini-rpc/message"
)

// Invoker decodes the encoded arguments, runs the method, and returns the
// encoded result.
type Invoker func(ctx context.Context, cdc codec.Codec, args [][]byte) ([]byte, error)

// Method is one entry of a service's method table.
type Method struct {
	Name       string
	ArgTypes   []string
	ResultType string
	invoke     Invoker
}

// Signature returns the method table key, e.g. "Add(int,int)".
func (m *Method) Signature() string {
	return Signature(m.Name, m.ArgTypes)
}

// Invoke runs the method. Argument decode failures are reported as
// CodeBadRequest; errors returned by the implementation are passed through.
func (m *Method) Invoke(ctx context.Context, cdc codec.Codec, args [][]byte) ([]byte, error) {
	if len(args) != len(m.ArgTypes) {
		return nil, message.NewError(message.CodeBadRequest,
			fmt.Sprintf("%s takes %d arguments, got %d", m.Signature(), len(m.ArgTypes), len(args)))
	}
	return m.invoke(ctx, cdc, args)
}

// Signature builds the method table key from a method name and argument type names.
func Signature(name string, argTypes []string) string {
	return name + "(" + strings.Join(argTypes, ",") + ")"
}

// TypeName is the wire name of T's type. Client and server must agree on it
// for a method to resolve. It is computed once when a method is registered or
// a client stub is built, never during dispatch.
func TypeName[T any]() string {
	return reflect.TypeFor[T]().String()
}

// Service is a named set of methods, keyed by signature so overloads with the
// same name but different argument types coexist.
type Service struct {
	name    string
	methods map[string]*Method
}

// NewService returns an empty service. Populate it with Method0..Method3
// before registering it.
func NewService(name string) *Service {
	return &Service{name: name, methods: make(map[string]*Method)}
}

func (s *Service) Name() string {
	return s.name
}

// Lookup finds the method matching name and argTypes exactly.
func (s *Service) Lookup(name string, argTypes []string) (*Method, bool) {
	m, ok := s.methods[Signature(name, argTypes)]
	return m, ok
}

// Methods returns the sorted signatures of every method.
func (s *Service) Methods() []string {
	sigs := make([]string, 0, len(s.methods))
	for sig := range s.methods {
		sigs = append(sigs, sig)
	}
	sort.Strings(sigs)
	return sigs
}

// Handle adds a method with a hand-written invoker. Most callers want the
// typed Method0..Method3 helpers instead.
//
// Handle panics if the signature is already registered, like http.ServeMux.
func (s *Service) Handle(name string, argTypes []string, resultType string, invoke Invoker) *Service {
	m := &Method{Name: name, ArgTypes: argTypes, ResultType: resultType, invoke: invoke}
	sig := m.Signature()
	if _, dup := s.methods[sig]; dup {
		panic("registry: duplicate method " + s.name + "." + sig)
	}
	s.methods[sig] = m
	return s
}

// Method0 registers fn as name().
func Method0[R any](s *Service, name string, fn func(context.Context) (R, error)) *Service {
	return s.Handle(name, nil, TypeName[R](), func(ctx context.Context, cdc codec.Codec, _ [][]byte) ([]byte, error) {
		r, err := fn(ctx)
		if err != nil {
			return nil, err
		}
		return encodeResult(cdc, r)
	})
}

// Method1 registers fn as name(A).
func Method1[A, R any](s *Service, name string, fn func(context.Context, A) (R, error)) *Service {
	argTypes := []string{TypeName[A]()}
	return s.Handle(name, argTypes, TypeName[R](), func(ctx context.Context, cdc codec.Codec, args [][]byte) ([]byte, error) {
		var a A
		if err := decodeArg(cdc, args, 0, &a); err != nil {
			return nil, err
		}
		r, err := fn(ctx, a)
		if err != nil {
			return nil, err
		}
		return encodeResult(cdc, r)
	})
}

// Method2 registers fn as name(A,B).
func Method2[A, B, R any](s *Service, name string, fn func(context.Context, A, B) (R, error)) *Service {
	argTypes := []string{TypeName[A](), TypeName[B]()}
	return s.Handle(name, argTypes, TypeName[R](), func(ctx context.Context, cdc codec.Codec, args [][]byte) ([]byte, error) {
		var (
			a A
			b B
		)
		if err := decodeArg(cdc, args, 0, &a); err != nil {
			return nil, err
		}
		if err := decodeArg(cdc, args, 1, &b); err != nil {
			return nil, err
		}
		r, err := fn(ctx, a, b)
		if err != nil {
			return nil, err
		}
		return encodeResult(cdc, r)
	})
}

// Method3 registers fn as name(A,B,C).
func Method3[A, B, C, R any](s *Service, name string, fn func(context.Context, A, B, C) (R, error)) *Service {
	argTypes := []string{TypeName[A](), TypeName[B](), TypeName[C]()}
	return s.Handle(name, argTypes, TypeName[R](), func(ctx context.Context, cdc codec.Codec, args [][]byte) ([]byte, error) {
		var (
			a A
			b B
			c C
		)
		if err := decodeArg(cdc, args, 0, &a); err != nil {
			return nil, err
		}
		if err := decodeArg(cdc, args, 1, &b); err != nil {
			return nil, err
		}
		if err := decodeArg(cdc, args, 2, &c); err != nil {
			return nil, err
		}
		r, err := fn(ctx, a, b, c)
		if err != nil {
			return nil, err
		}
		return encodeResult(cdc, r)
	})
}

func decodeArg(cdc codec.Codec, args [][]byte, i int, v any) error {
	if err := cdc.Decode(args[i], v); err != nil {
		return message.Wrap(message.CodeBadRequest, fmt.Sprintf("decode argument %d", i), err)
	}
	return nil
}

func encodeResult(cdc codec.Codec, r any) ([]byte, error) {
	b, err := cdc.Encode(r)
	if err != nil {
		return nil, message.Wrap(message.CodeInternal, "encode result", err)
	}
	return b, nil
}
