// Package interp defines the boundary to the realtime interpretation backend.
//
// A [Session] is a long-lived bidirectional stream: the pipeline pushes
// base64-encoded PCM16 audio chunks (and optional JPEG stills for visual
// context) upstream, and receives synthesised speech downstream as raw PCM
// buffers, already decoded from the wire. Lifecycle notifications — open,
// close, interrupted — and tool calls are surfaced through named typed
// callbacks rather than a generic emitter, so the contract stays limited to
// the events the pipeline actually reacts to.
//
// The protocol's message schema, authentication, and session negotiation are
// implementation details of the concrete provider packages (e.g.
// interp/gemini); this package only fixes the shape of the boundary.
//
// All implementations must be safe for concurrent use.
package interp

import "context"

// AudioMIMEType is the MIME type of every outbound audio chunk, fixed by the
// transport contract: 16 kHz mono PCM16.
const AudioMIMEType = "audio/pcm;rate=16000"

// ImageMIMEType is the MIME type of outbound still images.
const ImageMIMEType = "image/jpeg"

// ToolCallHandler is invoked when the backend requests a tool call. It
// receives the tool name and JSON-encoded arguments and returns a result
// string injected back into the session, or an error. The handler may be
// called from the session's receive goroutine and must not call blocking
// session methods.
type ToolCallHandler func(name, args string) (string, error)

// SessionConfig is the initial configuration for a new interpretation session.
type SessionConfig struct {
	// TargetLanguage is the language the backend interprets into
	// (e.g. "English", "Japanese").
	TargetLanguage string

	// Voice selects the synthesised voice. Provider-specific identifier;
	// empty means the provider default.
	Voice string

	// Instructions overrides the generated system prompt entirely when
	// non-empty. Opaque to this package.
	Instructions string
}

// Session is an open interpretation session.
//
// Send methods are the hot path of the outbound pipeline and must return
// quickly. The Audio channel must be drained promptly by the consumer to
// keep the provider's receive loop from stalling.
//
// Callers must call Close when the session is no longer needed.
type Session interface {
	// SendAudio delivers one transport-encoded audio chunk (base64 PCM16 at
	// 16 kHz mono) to the backend. Chunks must be sent in production order.
	// Returns an error if the session is closed or the write fails.
	SendAudio(data string) error

	// SendImage delivers a base64-encoded JPEG still for visual context.
	SendImage(data string) error

	// Audio returns the channel of synthesised speech buffers (raw PCM16 at
	// 24 kHz mono, already decoded from the wire), in arrival order. The
	// channel is closed when the session ends; check Err afterwards.
	Audio() <-chan []byte

	// OnOpen registers cb to run once the backend has acknowledged session
	// setup. Only one callback per event kind may be registered; subsequent
	// calls replace the previous registration. Callbacks run on an internal
	// goroutine and must not block.
	OnOpen(cb func())

	// OnInterrupted registers cb to run whenever the backend signals that
	// generation was cut off (e.g. the user spoke over the response). Any
	// audio buffered downstream is stale at that point.
	OnInterrupted(cb func())

	// OnClose registers cb to run when the session terminates, with the
	// terminating error or nil on clean shutdown.
	OnClose(cb func(err error))

	// OnToolCall registers the handler for backend tool calls. Passing nil
	// clears the handler.
	OnToolCall(handler ToolCallHandler)

	// Err returns the error that ended the session prematurely, or nil.
	Err() error

	// Close terminates the session and closes the Audio channel. Calling
	// Close more than once is safe and returns nil.
	Close() error
}

// Provider establishes interpretation sessions against one backend.
type Provider interface {
	// Connect opens a new session. The returned Session is ready to accept
	// audio immediately. ctx governs the connection attempt only.
	Connect(ctx context.Context, cfg SessionConfig) (Session, error)
}
