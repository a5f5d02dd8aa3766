package voice

import (
	"context"

	"github.com/Raikerian/go-live-tutor/pkg/audio"
	"github.com/Raikerian/go-live-tutor/pkg/wire"
)

// Handshake is what a session declares when it opens the service stream.
type Handshake struct {
	Input    audio.Format
	Output   audio.Format
	Modality string
}

// DefaultHandshake declares 16 kHz mono in, 24 kHz mono out, audio replies.
func DefaultHandshake() Handshake {
	return Handshake{Input: audio.Input, Output: audio.Output, Modality: "audio"}
}

// ServiceMessage is one decoded inbound message. Any combination of fields
// may be set.
type ServiceMessage struct {
	Audio        *wire.Frame
	Interrupted  bool
	TurnComplete bool
	Transcript   string
	Role         string // "user" or "model" when Transcript is set
}

// ServiceHandlers receives the service's four signals. Handlers are invoked
// from the transport's receive goroutine and must not block on the
// connection itself.
type ServiceHandlers struct {
	OnOpen    func(ctx context.Context)
	OnMessage func(ctx context.Context, msg ServiceMessage)
	OnClose   func(ctx context.Context, reason string)
	OnError   func(ctx context.Context, err error)
}

// ServiceConn is an open stream to the remote speech service.
type ServiceConn interface {
	// SendAudio forwards one captured frame. It blocks until the frame is
	// handed to the network.
	SendAudio(ctx context.Context, frame wire.Frame) error

	// Close ends the stream. Safe to call more than once.
	Close() error
}

// Transport dials the remote speech service.
type Transport interface {
	Name() string
	Dial(ctx context.Context, hs Handshake, handlers ServiceHandlers) (ServiceConn, error)
}
