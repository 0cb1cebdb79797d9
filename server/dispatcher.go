package server

import (
	"context"
	"fmt"
	"runtime/debug"

	"go.uber.org/zap"

	"mini-rpc/codec"
	"mini-rpc/message"
	"mini-rpc/middleware"
	"mini-rpc/registry"
)

// Dispatcher resolves decoded requests against a Registry and runs them.
//
// HandleIncomingRequest is total: every request yields exactly one Response
// carrying the request's call id, whatever the service implementation does.
type Dispatcher struct {
	registry *registry.Registry
	codec    codec.Codec
	logger   *zap.Logger
	handler  middleware.HandlerFunc // middleware(middleware(...(dispatch)))
}

// NewDispatcher builds the handler chain once; middlewares run in the given
// order around the registry lookup and invocation.
func NewDispatcher(reg *registry.Registry, cdc codec.Codec, logger *zap.Logger, mws ...middleware.Middleware) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := &Dispatcher{registry: reg, codec: cdc, logger: logger}
	d.handler = middleware.Chain(mws...)(d.dispatch)
	return d
}

// HandleIncomingRequest produces the Response for req. It never panics and
// never returns nil.
func (d *Dispatcher) HandleIncomingRequest(ctx context.Context, req *message.Request) (resp *message.Response) {
	defer func() {
		// Panics escaping middleware end up here; dispatch recovers its own.
		if r := recover(); r != nil {
			resp = d.panicResponse(req, r)
		}
		if resp == nil {
			resp = message.NewFailure(req.CallID, message.NewError(message.CodeInternal, "handler returned no response"))
		}
		resp.CallID = req.CallID
	}()
	return d.handler(ctx, req)
}

// dispatch is the innermost handler: registry lookup, then invocation.
func (d *Dispatcher) dispatch(ctx context.Context, req *message.Request) (resp *message.Response) {
	svc, ok := d.registry.Resolve(req.Service)
	if !ok {
		return message.NewFailure(req.CallID,
			message.NewError(message.CodeServiceNotFound, "service not found: "+req.Service))
	}
	method, ok := svc.Lookup(req.Method, req.ArgTypes)
	if !ok {
		return message.NewFailure(req.CallID,
			message.NewError(message.CodeMethodNotFound,
				"method not found: "+req.Service+"."+registry.Signature(req.Method, req.ArgTypes)))
	}

	defer func() {
		if r := recover(); r != nil {
			resp = d.panicResponse(req, r)
		}
	}()
	result, err := method.Invoke(ctx, d.codec, req.Args)
	if err != nil {
		return message.NewFailure(req.CallID, message.FromError(err))
	}
	return message.NewResult(req.CallID, result)
}

func (d *Dispatcher) panicResponse(req *message.Request, r any) *message.Response {
	d.logger.Error("panic while serving call",
		zap.String("method", req.ServiceMethod()),
		zap.Uint64("call_id", req.CallID),
		zap.Any("panic", r),
		zap.ByteString("stack", debug.Stack()))
	return message.NewFailure(req.CallID, message.NewError(message.CodeInternal, fmt.Sprintf("panic: %v", r)))
}
