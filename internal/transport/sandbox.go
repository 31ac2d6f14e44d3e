package transport

import (
	"context"
	"sync"
	"time"
)

// Sandbox is a loopback driver that records sends instead of delivering
// them. Used in sandbox mode and throughout the engine tests. A script
// function can inject failures per request.
type Sandbox struct {
	mu    sync.Mutex
	sent  []Request
	delay time.Duration

	// Script decides the outcome for a request; nil means delivered
	Script func(req Request) Outcome
}

// NewSandbox creates a recording driver with an optional artificial delay
func NewSandbox(delay time.Duration) *Sandbox {
	return &Sandbox{delay: delay}
}

// Send records the request and returns the scripted outcome
func (s *Sandbox) Send(ctx context.Context, req Request) (Outcome, error) {
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Outcome{Delivered: false, Err: ctx.Err().Error()}, nil
		}
	}

	s.mu.Lock()
	s.sent = append(s.sent, req)
	script := s.Script
	s.mu.Unlock()

	if script != nil {
		return script(req), nil
	}
	return Outcome{Delivered: true}, nil
}

// Sent returns a copy of all recorded requests
func (s *Sandbox) Sent() []Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Request(nil), s.sent...)
}
