// Package mock provides scripted interp.Provider and interp.Session
// implementations for tests.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/voxlate/voxlate/pkg/interp"
)

// Compile-time assertions.
var _ interp.Provider = (*Provider)(nil)
var _ interp.Session = (*Session)(nil)

// Provider returns a preconfigured Session from Connect, or an error.
type Provider struct {
	// ConnectErr, when non-nil, is returned by Connect.
	ConnectErr error

	mu       sync.Mutex
	sessions []*Session
}

// Connect returns a new Session (recorded for later inspection) or ConnectErr.
func (p *Provider) Connect(_ context.Context, _ interp.SessionConfig) (interp.Session, error) {
	if p.ConnectErr != nil {
		return nil, p.ConnectErr
	}
	s := NewSession()
	p.mu.Lock()
	p.sessions = append(p.sessions, s)
	p.mu.Unlock()
	return s, nil
}

// Sessions returns all sessions handed out so far.
func (p *Provider) Sessions() []*Session {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]*Session, len(p.sessions))
	copy(out, p.sessions)
	return out
}

// Session records sent media and lets tests drive the inbound side.
type Session struct {
	mu            sync.Mutex
	sentAudio     []string
	sentImages    []string
	errVal        error
	closed        bool
	openHandler   func()
	interrHandler func()
	closeHandler  func(error)
	toolHandler   interp.ToolCallHandler

	audioCh   chan []byte
	closeOnce sync.Once
}

// NewSession creates an open mock session.
func NewSession() *Session {
	return &Session{audioCh: make(chan []byte, 64)}
}

// SendAudio records the chunk. Returns an error after Close.
func (s *Session) SendAudio(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	s.sentAudio = append(s.sentAudio, data)
	return nil
}

// SendImage records the still. Returns an error after Close.
func (s *Session) SendImage(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("mock: session closed")
	}
	s.sentImages = append(s.sentImages, data)
	return nil
}

// SentAudio returns the audio chunks sent so far, in order.
func (s *Session) SentAudio() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentAudio))
	copy(out, s.sentAudio)
	return out
}

// SentImages returns the stills sent so far, in order.
func (s *Session) SentImages() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sentImages))
	copy(out, s.sentImages)
	return out
}

// Audio returns the inbound audio channel. Tests push with PushAudio.
func (s *Session) Audio() <-chan []byte { return s.audioCh }

// PushAudio delivers one inbound PCM buffer to the session consumer.
func (s *Session) PushAudio(pcm []byte) { s.audioCh <- pcm }

// FireOpen invokes the registered open callback synchronously.
func (s *Session) FireOpen() {
	s.mu.Lock()
	cb := s.openHandler
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireInterrupted invokes the registered interrupted callback synchronously.
func (s *Session) FireInterrupted() {
	s.mu.Lock()
	cb := s.interrHandler
	s.mu.Unlock()
	if cb != nil {
		cb()
	}
}

// FireClose closes the audio channel and invokes the close callback with err.
func (s *Session) FireClose(err error) {
	s.mu.Lock()
	s.errVal = err
	cb := s.closeHandler
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.audioCh) })
	if cb != nil {
		cb(err)
	}
}

// CallTool invokes the registered tool handler, if any.
func (s *Session) CallTool(name, args string) (string, error) {
	s.mu.Lock()
	h := s.toolHandler
	s.mu.Unlock()
	if h == nil {
		return "", fmt.Errorf("mock: no tool handler registered")
	}
	return h(name, args)
}

func (s *Session) OnOpen(cb func())                          { s.mu.Lock(); s.openHandler = cb; s.mu.Unlock() }
func (s *Session) OnInterrupted(cb func())                   { s.mu.Lock(); s.interrHandler = cb; s.mu.Unlock() }
func (s *Session) OnClose(cb func(error))                    { s.mu.Lock(); s.closeHandler = cb; s.mu.Unlock() }
func (s *Session) OnToolCall(handler interp.ToolCallHandler) { s.mu.Lock(); s.toolHandler = handler; s.mu.Unlock() }

// Err returns the error recorded by FireClose.
func (s *Session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// Closed reports whether Close has been called.
func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

// Close marks the session closed and closes the audio channel, per the
// Session contract. Idempotent.
func (s *Session) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	s.closeOnce.Do(func() { close(s.audioCh) })
	return nil
}
