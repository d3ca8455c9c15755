package domain

import (
	"fmt"
	"time"

	apperrors "github.com/acme/softdialer/pkg/errors"
)

// CallDirection tells whether the customer called us or we called them.
type CallDirection string

const (
	CallDirectionInbound  CallDirection = "inbound"
	CallDirectionOutbound CallDirection = "outbound"
)

// CallLeg identifies which endpoint a provider call connects to.
type CallLeg string

const (
	CallLegCustomer CallLeg = "customer"
	CallLegAgent    CallLeg = "agent"
)

// AMDResult is the provider's answering machine classification.
type AMDResult string

const (
	AMDResultNone    AMDResult = "none"
	AMDResultUnknown AMDResult = "unknown"
	AMDResultHuman   AMDResult = "human"
	AMDResultMachine AMDResult = "machine"
)

// ParseAnsweredBy maps the provider's AnsweredBy value onto an AMDResult.
func ParseAnsweredBy(value string) AMDResult {
	switch value {
	case "human":
		return AMDResultHuman
	case "machine", "machine_start", "machine_end_beep", "machine_end_silence", "machine_end_other":
		return AMDResultMachine
	case "":
		return AMDResultNone
	default:
		return AMDResultUnknown
	}
}

// CallState enumerates lifecycle stages of a single call attempt.
type CallState string

const (
	CallStateCreated   CallState = "created"
	CallStateRinging   CallState = "ringing"
	CallStateAnswered  CallState = "answered"
	CallStateJoined    CallState = "joined"
	CallStateVoicemail CallState = "voicemail_played"
	CallStateCompleted CallState = "completed"
	CallStateFailed    CallState = "failed"
)

// Terminal reports whether no further transitions are possible.
func (s CallState) Terminal() bool {
	return s == CallStateCompleted || s == CallStateFailed
}

// CallEvent is an input to the call state machine.
type CallEvent string

const (
	CallEventRinging      CallEvent = "ringing"
	CallEventAnswered     CallEvent = "answered"
	CallEventHuman        CallEvent = "amd_human"
	CallEventMachine      CallEvent = "amd_machine"
	CallEventUndetermined CallEvent = "amd_undetermined"
	CallEventCompleted    CallEvent = "completed"
	CallEventFailed       CallEvent = "failed"

	// CallEventTracked is recorded when an attempt is first tracked. It is
	// not an input to Next.
	CallEventTracked CallEvent = "tracked"
)

// EventForAMD converts an AMD classification into a state machine event.
func EventForAMD(result AMDResult) CallEvent {
	switch result {
	case AMDResultHuman:
		return CallEventHuman
	case AMDResultMachine:
		return CallEventMachine
	default:
		return CallEventUndetermined
	}
}

// EventForProviderStatus maps a provider call status onto an event. The
// boolean is false for purely informational statuses.
func EventForProviderStatus(status string) (CallEvent, bool) {
	switch status {
	case "ringing":
		return CallEventRinging, true
	case "in-progress", "answered":
		return CallEventAnswered, true
	case "completed":
		return CallEventCompleted, true
	case "busy", "no-answer", "failed", "canceled":
		return CallEventFailed, true
	default:
		return "", false
	}
}

// stale marks an out-of-order informational event: state is kept, no error.
const stale CallState = ""

var transitions = map[CallState]map[CallEvent]CallState{
	CallStateCreated: {
		CallEventRinging:      CallStateRinging,
		CallEventAnswered:     CallStateAnswered,
		CallEventHuman:        CallStateJoined,
		CallEventMachine:      CallStateVoicemail,
		CallEventUndetermined: CallStateFailed,
		CallEventCompleted:    CallStateCompleted,
		CallEventFailed:       CallStateFailed,
	},
	CallStateRinging: {
		CallEventRinging:      CallStateRinging,
		CallEventAnswered:     CallStateAnswered,
		CallEventHuman:        CallStateJoined,
		CallEventMachine:      CallStateVoicemail,
		CallEventUndetermined: CallStateFailed,
		CallEventCompleted:    CallStateCompleted,
		CallEventFailed:       CallStateFailed,
	},
	CallStateAnswered: {
		CallEventRinging:      stale,
		CallEventAnswered:     CallStateAnswered,
		CallEventHuman:        CallStateJoined,
		CallEventMachine:      CallStateVoicemail,
		CallEventUndetermined: CallStateFailed,
		CallEventCompleted:    CallStateCompleted,
		CallEventFailed:       CallStateFailed,
	},
	CallStateJoined: {
		CallEventRinging:   stale,
		CallEventAnswered:  stale,
		CallEventHuman:     CallStateJoined,
		CallEventCompleted: CallStateCompleted,
		CallEventFailed:    CallStateCompleted,
	},
	CallStateVoicemail: {
		CallEventRinging:   stale,
		CallEventAnswered:  stale,
		CallEventMachine:   CallStateVoicemail,
		CallEventCompleted: CallStateCompleted,
		CallEventFailed:    CallStateCompleted,
	},
	CallStateCompleted: {
		CallEventCompleted: CallStateCompleted,
		CallEventFailed:    CallStateCompleted,
	},
	CallStateFailed: {
		CallEventCompleted: CallStateFailed,
		CallEventFailed:    CallStateFailed,
	},
}

// Next applies an event to the state. Every legal transition of a call
// attempt is listed in the transitions table above.
func (s CallState) Next(event CallEvent) (CallState, error) {
	row, ok := transitions[s]
	if !ok {
		return s, fmt.Errorf("%w: unknown state %q", apperrors.ErrIllegalTransition, s)
	}
	next, ok := row[event]
	if !ok {
		if s.Terminal() {
			return s, fmt.Errorf("%w: %s on %s", apperrors.ErrTerminalState, event, s)
		}
		return s, fmt.Errorf("%w: %s on %s", apperrors.ErrIllegalTransition, event, s)
	}
	if next == stale {
		return s, nil
	}
	return next, nil
}

// CallAttempt is the router's bookkeeping for one provider call leg.
type CallAttempt struct {
	ProviderCallID string
	Conference     string
	AgentID        string
	Direction      CallDirection
	Leg            CallLeg
	AMD            AMDResult
	State          CallState
	To             string
	From           string
	CreatedAt      time.Time
	UpdatedAt      time.Time
	EndedAt        *time.Time
}
