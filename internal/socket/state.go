package socket

import "github.com/bhandras/notebook/internal/actor"

// ReadyState mirrors spec §4.2's four connection states.
type ReadyState int

const (
	StateClosed ReadyState = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s ReadyState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// socketState is the pure state owned by the actor loop.
type socketState struct {
	ready   ReadyState
	attempt int
}

// --- inputs ---

type inConnectRequested struct{ actor.InputBase }
type inDialSucceeded struct {
	actor.InputBase
}
type inDialFailed struct {
	actor.InputBase
	err error
}
type inSocketClosed struct {
	actor.InputBase
	code     int
	reason   string
	expected bool
}
type inBackoffElapsed struct {
	actor.InputBase
	attempt int
}
type inCloseRequested struct{ actor.InputBase }

// --- effects ---

type effDial struct {
	actor.EffectBase
	attempt int
}
type effScheduleReconnect struct {
	actor.EffectBase
	delay   float64 // seconds, so the reducer stays float-math only, no time import needed
	attempt int
}
type effEmitOpen struct{ actor.EffectBase }
type effEmitClose struct {
	actor.EffectBase
	code   int
	reason string
}
type effEmitError struct {
	actor.EffectBase
	err error
}
type effCloseConn struct{ actor.EffectBase }
type effCancelReconnect struct{ actor.EffectBase }

// reduce implements the connection-state machine. It is pure: no I/O, no
// clock reads, no goroutines — exactly the actor package's contract.
func reduce(s socketState, in actor.Input) (socketState, []actor.Effect) {
	switch ev := in.(type) {
	case inConnectRequested:
		if s.ready == StateConnecting || s.ready == StateOpen {
			return s, nil
		}
		s.ready = StateConnecting
		s.attempt = 0
		return s, []actor.Effect{effDial{attempt: s.attempt}}

	case inDialSucceeded:
		s.ready = StateOpen
		s.attempt = 0
		return s, []actor.Effect{effEmitOpen{}}

	case inDialFailed:
		if s.ready != StateConnecting {
			return s, nil
		}
		s.attempt++
		delay := backoffSeconds(s.attempt)
		return s, []actor.Effect{
			effEmitError{err: ev.err},
			effScheduleReconnect{delay: delay, attempt: s.attempt},
		}

	case inBackoffElapsed:
		if s.ready != StateConnecting || ev.attempt != s.attempt {
			return s, nil
		}
		return s, []actor.Effect{effDial{attempt: s.attempt}}

	case inSocketClosed:
		prev := s.ready
		s.ready = StateClosed
		effects := []actor.Effect{effEmitClose{code: ev.code, reason: ev.reason}}
		if !ev.expected && prev != StateClosed {
			s.ready = StateConnecting
			s.attempt++
			delay := backoffSeconds(s.attempt)
			effects = append(effects, effScheduleReconnect{delay: delay, attempt: s.attempt})
		}
		return s, effects

	case inCloseRequested:
		s.ready = StateClosed
		return s, []actor.Effect{effCancelReconnect{}, effCloseConn{}}

	default:
		return s, nil
	}
}

// backoffSeconds implements spec §4.2's exponential backoff schedule:
// initial 200ms, factor 2, cap 2s. It returns the un-jittered value;
// armReconnect applies jitter in [0.5, 1.5) of it.
func backoffSeconds(attempt int) float64 {
	const initial = 0.2
	const cap_ = 2.0
	const factor = 2.0

	base := initial
	for i := 1; i < attempt; i++ {
		base *= factor
		if base >= cap_ {
			base = cap_
			break
		}
	}
	if base > cap_ {
		base = cap_
	}
	return base
}
