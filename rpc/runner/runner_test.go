package runner

import (
	"context"
	"strconv"
	"testing"
	"time"

	"hakoniwa-pdu-go/pdu"
)

func intCodecs() (func(int) []byte, func([]byte) (int, error), func(int) []byte, func([]byte) (int, error)) {
	encode := func(v int) []byte { return []byte(strconv.Itoa(v)) }
	decode := func(b []byte) (int, error) { return strconv.Atoi(string(b)) }
	return encode, decode, encode, decode
}

func TestStepProcessesOneAvailableRequest(t *testing.T) {
	encodeReq, decodeReq, encodeRes, decodeRes := intCodecs()

	queued := [][]byte{[]byte("21")}
	var sent []byte

	r := New(encodeReq, decodeReq, encodeRes, decodeRes,
		func() ([]byte, bool) {
			if len(queued) == 0 {
				return nil, false
			}
			next := queued[0]
			queued = queued[1:]
			return next, true
		},
		func(raw []byte) bool { sent = raw; return true },
		time.Millisecond,
	)

	event := r.Step(func(req int) int { return req * 2 })
	if event != pdu.ServerEventRequestIn {
		t.Fatalf("Step event = %v; want ServerEventRequestIn", event)
	}
	if string(sent) != "42" {
		t.Errorf("sent = %q; want 42", sent)
	}
}

func TestStepReturnsNoneWhenNothingQueued(t *testing.T) {
	encodeReq, decodeReq, encodeRes, decodeRes := intCodecs()
	r := New(encodeReq, decodeReq, encodeRes, decodeRes,
		func() ([]byte, bool) { return nil, false },
		func([]byte) bool { return true },
		time.Millisecond,
	)

	if event := r.Step(func(req int) int { return req }); event != pdu.ServerEventNone {
		t.Errorf("Step event = %v; want ServerEventNone", event)
	}
}

func TestServeStopsWhenContextCancelled(t *testing.T) {
	encodeReq, decodeReq, encodeRes, decodeRes := intCodecs()
	r := New(encodeReq, decodeReq, encodeRes, decodeRes,
		func() ([]byte, bool) { return nil, false },
		func([]byte) bool { return true },
		time.Millisecond,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	err := r.Serve(ctx, func(req int) int { return req })
	if err != context.DeadlineExceeded {
		t.Errorf("Serve error = %v; want context.DeadlineExceeded", err)
	}
}
