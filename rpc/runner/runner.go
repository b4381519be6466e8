// Package runner implements the generic protocol runner (§4.I): a single
// cooperative driving loop parameterised by typed encode/decode closures,
// standing in for the spec's "service-descriptor value" (§9) via Go
// generics instead of dynamic dispatch.
//
// Grounded on the teacher's middleware.TimeOutMiddleware — the same
// select against ctx.Done(), generalized from "one call, one timeout" to
// "keep calling the handler until ctx is cancelled". Serve runs in the
// caller's goroutine and starts none of its own.
package runner

import (
	"context"
	"time"

	"hakoniwa-pdu-go/pdu"
)

// Runner drives a request/response handler loop over raw bytes,
// marshalling through the four injected codec closures. Req is the
// decoded request shape; Res is the decoded response shape.
type Runner[Req, Res any] struct {
	EncodeReq func(Req) []byte
	DecodeReq func([]byte) (Req, error)
	EncodeRes func(Res) []byte
	DecodeRes func([]byte) (Res, error)

	// Poll returns the next raw request, or ok=false if none is
	// currently available (non-blocking).
	Poll func() ([]byte, bool)
	// Send ships a raw encoded response. A false return means the send
	// failed; the runner logs nothing and simply moves on, per §7's
	// transport-errors-never-propagate policy.
	Send func([]byte) bool

	// PollInterval paces Serve's ticker between Step calls.
	PollInterval time.Duration
}

// New constructs a Runner from its four codec closures and its transport
// hooks.
func New[Req, Res any](
	encodeReq func(Req) []byte,
	decodeReq func([]byte) (Req, error),
	encodeRes func(Res) []byte,
	decodeRes func([]byte) (Res, error),
	poll func() ([]byte, bool),
	send func([]byte) bool,
	pollInterval time.Duration,
) *Runner[Req, Res] {
	return &Runner[Req, Res]{
		EncodeReq:    encodeReq,
		DecodeReq:    decodeReq,
		EncodeRes:    encodeRes,
		DecodeRes:    decodeRes,
		Poll:         poll,
		Send:         send,
		PollInterval: pollInterval,
	}
}

// Step performs one non-blocking tick: if a request is available, decode
// it, run handler, encode and send the response. Returns
// ServerEventRequestIn if a request was processed, ServerEventNone
// otherwise — callers driving their own loop use this instead of Serve.
func (r *Runner[Req, Res]) Step(handler func(Req) Res) pdu.ServerEvent {
	raw, ok := r.Poll()
	if !ok {
		return pdu.ServerEventNone
	}
	req, err := r.DecodeReq(raw)
	if err != nil {
		return pdu.ServerEventNone
	}
	res := handler(req)
	r.Send(r.EncodeRes(res))
	return pdu.ServerEventRequestIn
}

// Serve runs Step on a ticker until ctx is cancelled, in its own
// cooperative loop — the "keep calling the handler" counterpart to
// Step's single-tick shape.
func (r *Runner[Req, Res]) Serve(ctx context.Context, handler func(Req) Res) error {
	ticker := time.NewTicker(r.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			r.Step(handler)
		}
	}
}
