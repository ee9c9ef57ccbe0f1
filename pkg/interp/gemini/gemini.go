// Package gemini implements the interp.Provider interface for Google's
// Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Gemini Live
// endpoint and exchanges JSON messages according to the BidiGenerateContent
// protocol. Audio and still images travel upstream as base64 media chunks;
// synthesised speech arrives as base64 inline data and is decoded before
// being handed to the caller.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/voxlate/voxlate/pkg/interp"
)

// Compile-time assertions that Provider and session satisfy the interp interfaces.
var _ interp.Provider = (*Provider)(nil)
var _ interp.Session = (*session)(nil)

const (
	defaultModel   = "gemini-2.0-flash-live-001"
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	keepaliveInterval = 20 * time.Second
	keepaliveTimeout  = 5 * time.Second
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Provider.
type Option func(*Provider)

// WithModel sets the Gemini model used for sessions.
func WithModel(model string) Option {
	return func(p *Provider) { p.model = model }
}

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(p *Provider) { p.baseURL = url }
}

// ── Provider ───────────────────────────────────────────────────────────────────

// Provider implements interp.Provider for Google's Gemini Live API.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
}

// New creates a new Gemini Live Provider with the given API key and options.
func New(apiKey string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Connect establishes a new Gemini Live session. The returned Session is
// ready to accept audio as soon as the setup message has been written; the
// OnOpen callback fires when the backend acknowledges setup.
func (p *Provider) Connect(ctx context.Context, cfg interp.SessionConfig) (interp.Session, error) {
	wsURL := fmt.Sprintf(
		"%s/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent?key=%s",
		p.baseURL, p.apiKey,
	)

	conn, _, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		return nil, fmt.Errorf("gemini: dial: %w", err)
	}

	sessCtx, sessCancel := context.WithCancel(context.Background())
	sess := &session{
		conn:    conn,
		audioCh: make(chan []byte, 64),
		done:    make(chan struct{}),
		ctx:     sessCtx,
		cancel:  sessCancel,
	}

	if err := sess.sendSetup(p.model, cfg); err != nil {
		sessCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, fmt.Errorf("gemini: setup: %w", err)
	}

	go sess.receiveLoop()
	go sess.keepaliveLoop()

	return sess, nil
}

// instructions returns the system prompt for cfg: the explicit override when
// set, otherwise a prompt generated from the target language.
func instructions(cfg interp.SessionConfig) string {
	if cfg.Instructions != "" {
		return cfg.Instructions
	}
	lang := cfg.TargetLanguage
	if lang == "" {
		lang = "English"
	}
	return fmt.Sprintf(
		"You are a simultaneous interpreter. Listen to the incoming audio "+
			"(and read any on-screen text in the provided images) and speak a "+
			"natural, faithful %s interpretation as the source plays. Do not "+
			"add commentary.", lang)
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent *serverContent   `json:"serverContent,omitempty"`
	ToolCall      *toolCallMsg     `json:"toolCall,omitempty"`
}

type serverContent struct {
	ModelTurn    *modelTurn `json:"modelTurn,omitempty"`
	TurnComplete bool       `json:"turnComplete,omitempty"`
	Interrupted  bool       `json:"interrupted,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ── session ────────────────────────────────────────────────────────────────────

type session struct {
	conn    *websocket.Conn
	audioCh chan []byte

	mu            sync.Mutex
	errVal        error
	closed        bool
	opened        bool
	openHandler   func()
	interrHandler func()
	closeHandler  func(error)
	toolHandler   interp.ToolCallHandler

	done      chan struct{}
	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (s *session) sendSetup(model string, cfg interp.SessionConfig) error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
			SystemInstruction: &systemInstruction{
				Parts: []part{{Text: instructions(cfg)}},
			},
		},
	}

	if cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: cfg.Voice},
			},
		}
	}

	return s.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (s *session) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	return s.conn.Write(s.ctx, websocket.MessageText, data)
}

// receiveLoop reads messages from the WebSocket and dispatches them.
// It owns audioCh: it closes the channel and fires OnClose when it exits.
func (s *session) receiveLoop() {
	defer s.finish()

	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			// If the session context was cancelled, exit cleanly.
			if s.ctx.Err() != nil {
				return
			}
			s.setErr(err)
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			continue // skip malformed frames
		}

		s.handleServerMessage(&msg)
	}
}

func (s *session) handleServerMessage(msg *serverMessage) {
	if msg.SetupComplete != nil {
		s.mu.Lock()
		s.opened = true
		handler := s.openHandler
		s.mu.Unlock()
		s.fire(handler)
	}
	if msg.ServerContent != nil {
		s.handleServerContent(msg.ServerContent)
	}
	if msg.ToolCall != nil {
		s.handleToolCall(msg.ToolCall)
	}
}

func (s *session) handleServerContent(sc *serverContent) {
	if sc.Interrupted {
		s.mu.Lock()
		handler := s.interrHandler
		s.mu.Unlock()
		s.fire(handler)
	}

	if sc.ModelTurn == nil {
		return
	}
	for _, p := range sc.ModelTurn.Parts {
		if p.InlineData == nil {
			continue
		}
		pcm, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
		if err != nil || len(pcm) == 0 {
			continue
		}
		select {
		case s.audioCh <- pcm:
		case <-s.ctx.Done():
			return
		}
	}
}

func (s *session) handleToolCall(tc *toolCallMsg) {
	s.mu.Lock()
	handler := s.toolHandler
	s.mu.Unlock()

	if handler == nil {
		return
	}

	for _, fc := range tc.FunctionCalls {
		argsJSON, err := json.Marshal(fc.Args)
		if err != nil {
			continue
		}

		result, callErr := handler(fc.Name, string(argsJSON))
		if callErr != nil {
			result = fmt.Sprintf(`{"error": %q}`, callErr.Error())
		}

		// Attempt to parse result as JSON; fall back to wrapping in {"output":...}.
		var respObj map[string]any
		if jsonErr := json.Unmarshal([]byte(result), &respObj); jsonErr != nil {
			respObj = map[string]any{"output": result}
		}

		resp := toolResponseMessage{
			ToolResponse: toolResponse{
				FunctionResponses: []functionResponse{
					{ID: fc.ID, Name: fc.Name, Response: respObj},
				},
			},
		}
		_ = s.writeJSON(resp) // best-effort; ignore write errors after close
	}
}

// keepaliveLoop sends WebSocket pings to keep the Gemini Live connection alive.
func (s *session) keepaliveLoop() {
	ticker := time.NewTicker(keepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.done:
			return
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(s.ctx, keepaliveTimeout)
			_ = s.conn.Ping(pingCtx)
			cancel()
		}
	}
}

// fire invokes handler on a new goroutine if it is non-nil.
func (s *session) fire(handler func()) {
	if handler != nil {
		go handler()
	}
}

func (s *session) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.errVal == nil {
		s.errVal = err
	}
}

// finish closes the audio channel and fires the close callback exactly once.
func (s *session) finish() {
	s.closeOnce.Do(func() {
		close(s.audioCh)
		s.mu.Lock()
		handler := s.closeHandler
		err := s.errVal
		s.mu.Unlock()
		if handler != nil {
			go handler(err)
		}
	})
}

// ── Session methods ────────────────────────────────────────────────────────────

// SendAudio delivers one base64 PCM16 chunk (16 kHz mono) to the model.
func (s *session) SendAudio(data string) error {
	return s.sendMedia(mediaChunk{MIMEType: interp.AudioMIMEType, Data: data})
}

// SendImage delivers one base64 JPEG still to the model.
func (s *session) SendImage(data string) error {
	return s.sendMedia(mediaChunk{MIMEType: interp.ImageMIMEType, Data: data})
}

func (s *session) sendMedia(chunk mediaChunk) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("gemini: session closed")
	}
	s.mu.Unlock()

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{chunk},
		},
	}
	return s.writeJSON(msg)
}

// Audio returns the channel on which synthesised speech arrives.
func (s *session) Audio() <-chan []byte { return s.audioCh }

// Err returns the first non-nil error that caused the session to terminate.
func (s *session) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errVal
}

// OnOpen registers a callback for the backend's setup acknowledgement. The
// acknowledgement is latched: if it already arrived — the receive loop starts
// before callers can register — cb fires immediately.
func (s *session) OnOpen(cb func()) {
	s.mu.Lock()
	s.openHandler = cb
	opened := s.opened
	s.mu.Unlock()
	if opened {
		s.fire(cb)
	}
}

// OnInterrupted registers a callback for generation-interrupted signals.
func (s *session) OnInterrupted(cb func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.interrHandler = cb
}

// OnClose registers a callback for session termination.
func (s *session) OnClose(cb func(error)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closeHandler = cb
}

// OnToolCall registers a callback for tool invocations from the model.
func (s *session) OnToolCall(handler interp.ToolCallHandler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.toolHandler = handler
}

// Close terminates the session and releases all resources. Idempotent.
func (s *session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	s.cancel()    // unblocks receiveLoop and keepaliveLoop
	close(s.done) // signals keepaliveLoop via done channel
	s.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
