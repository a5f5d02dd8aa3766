package voice

import "time"

// State is the lifecycle position of a Session.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateListening
	StateSpeaking
	StateClosing
	StateClosed
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateListening:
		return "listening"
	case StateSpeaking:
		return "speaking"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further audio can flow in this state.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateFailed
}

// live reports whether audio flows in both directions.
func (s State) live() bool {
	return s == StateOpen || s == StateListening || s == StateSpeaking
}

// transitions lists the legal targets for each state.
var transitions = map[State][]State{
	StateIdle:       {StateConnecting, StateClosed},
	StateConnecting: {StateOpen, StateClosing, StateFailed},
	StateOpen:       {StateListening, StateSpeaking, StateClosing, StateFailed},
	StateListening:  {StateSpeaking, StateClosing, StateFailed},
	StateSpeaking:   {StateListening, StateClosing, StateFailed},
	StateClosing:    {StateClosed, StateFailed},
	StateFailed:     {StateClosed},
}

// CanTransition reports whether from → to is a legal session transition.
func CanTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// SessionStats is a snapshot of a session's counters.
type SessionStats struct {
	ChunksSent     int64
	ChunksReceived int64
	ChunksDropped  int64
	Interruptions  int64
	StartTime      time.Time
	LastActivity   time.Time
}

// SessionStatus provides a read-only view of session status.
type SessionStatus struct {
	Active    bool
	SessionID string
	State     State
	Speaking  bool
	Provider  string
	Host      string
	Stats     SessionStats
}

// SessionSummary records how an ended session went.
type SessionSummary struct {
	SessionID  string
	StartTime  time.Time
	EndTime    time.Time
	FinalState State
	EndReason  string
	Err        error
	Stats      SessionStats
}

// Duration is the wall time the session was alive.
func (s SessionSummary) Duration() time.Duration {
	return s.EndTime.Sub(s.StartTime)
}
