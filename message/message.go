// Package message defines the RPC messages exchanged between client and server.
//
// A Request or Response is serialized by the codec layer and wrapped in a
// protocol frame for transmission over TCP.
package message

// Request identifies one remote invocation.
//
// Args are positionally matched to ArgTypes. Each argument is encoded on its own
// with the connection's payload codec so the server can decode it straight into
// the parameter type found in the method table.
type Request struct {
	CallID   uint64   `json:"call_id"`
	Service  string   `json:"service"`
	Method   string   `json:"method"`
	ArgTypes []string `json:"arg_types,omitempty"`
	Args     [][]byte `json:"args,omitempty"`
}

// Response is the outcome of one Request. Success is Error == nil.
type Response struct {
	CallID uint64 `json:"call_id"`
	Result []byte `json:"result,omitempty"`
	Error  *Error `json:"error,omitempty"`
}

// OK reports whether the call succeeded.
func (r *Response) OK() bool {
	return r.Error == nil
}

// ServiceMethod returns "Service.Method", used in logs.
func (r *Request) ServiceMethod() string {
	return r.Service + "." + r.Method
}

// NewResult builds a successful Response for callID.
func NewResult(callID uint64, result []byte) *Response {
	return &Response{CallID: callID, Result: result}
}

// NewFailure builds a failed Response for callID.
func NewFailure(callID uint64, err *Error) *Response {
	return &Response{CallID: callID, Error: err}
}
