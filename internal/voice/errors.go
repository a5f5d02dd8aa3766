package voice

import "errors"

// ErrorKind classifies a VoiceError.
type ErrorKind int

const (
	KindInternal ErrorKind = iota
	// KindPermissionDenied: microphone access refused. The user may retry.
	KindPermissionDenied
	// KindDeviceUnavailable: the input or output device is busy or missing.
	KindDeviceUnavailable
	// KindTransport: the remote connection failed or dropped.
	KindTransport
	// KindMalformedContainer: an audio container's header is inconsistent.
	// Only the affected buffer is dropped.
	KindMalformedContainer
	// KindSession: the session was used in a state that does not allow it.
	KindSession
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermissionDenied:
		return "permission_denied"
	case KindDeviceUnavailable:
		return "device_unavailable"
	case KindTransport:
		return "transport"
	case KindMalformedContainer:
		return "malformed_container"
	case KindSession:
		return "session"
	default:
		return "internal"
	}
}

// Predefined errors
var (
	ErrPermissionDenied     = NewVoiceError(KindPermissionDenied, "microphone permission denied")
	ErrDeviceUnavailable    = NewVoiceError(KindDeviceUnavailable, "audio device unavailable")
	ErrTransport            = NewVoiceError(KindTransport, "speech service transport error")
	ErrMalformedContainer   = NewVoiceError(KindMalformedContainer, "malformed audio container")
	ErrConnectTimeout       = NewVoiceError(KindTransport, "timed out waiting for the speech service")
	ErrInvalidTransition    = NewVoiceError(KindSession, "invalid session state transition")
	ErrSessionClosed        = NewVoiceError(KindSession, "session closed")
	ErrSessionAlreadyExists = NewVoiceError(KindSession, "a voice session is already active")
	ErrSessionNotFound      = NewVoiceError(KindSession, "session not found")
	ErrSchedulerClosed      = NewVoiceError(KindSession, "playback scheduler closed")
)

// VoiceError represents errors specific to voice operations. Causes are
// attached with fmt.Errorf("%w: ...: %w", ErrTransport, err) so both the
// sentinel and the cause stay reachable through errors.Is.
type VoiceError struct {
	Kind    ErrorKind
	message string
}

func NewVoiceError(kind ErrorKind, message string) *VoiceError {
	return &VoiceError{Kind: kind, message: message}
}

func (e *VoiceError) Error() string {
	return e.message
}

// KindOf returns the kind of the first VoiceError in err's chain.
func KindOf(err error) ErrorKind {
	var ve *VoiceError
	if errors.As(err, &ve) {
		return ve.Kind
	}
	return KindInternal
}
