package domain

import (
	"errors"
	"testing"

	apperrors "github.com/acme/softdialer/pkg/errors"
)

func TestCallStateNext(t *testing.T) {
	cases := []struct {
		from  CallState
		event CallEvent
		want  CallState
		err   error
	}{
		{CallStateCreated, CallEventRinging, CallStateRinging, nil},
		{CallStateRinging, CallEventAnswered, CallStateAnswered, nil},
		{CallStateAnswered, CallEventHuman, CallStateJoined, nil},
		{CallStateAnswered, CallEventMachine, CallStateVoicemail, nil},
		{CallStateAnswered, CallEventUndetermined, CallStateFailed, nil},
		{CallStateAnswered, CallEventRinging, CallStateAnswered, nil},
		{CallStateJoined, CallEventAnswered, CallStateJoined, nil},
		{CallStateJoined, CallEventCompleted, CallStateCompleted, nil},
		{CallStateJoined, CallEventFailed, CallStateCompleted, nil},
		{CallStateJoined, CallEventMachine, CallStateJoined, apperrors.ErrIllegalTransition},
		{CallStateVoicemail, CallEventHuman, CallStateVoicemail, apperrors.ErrIllegalTransition},
		{CallStateVoicemail, CallEventCompleted, CallStateCompleted, nil},
		{CallStateCompleted, CallEventCompleted, CallStateCompleted, nil},
		{CallStateCompleted, CallEventHuman, CallStateCompleted, apperrors.ErrTerminalState},
		{CallStateFailed, CallEventCompleted, CallStateFailed, nil},
		{CallStateFailed, CallEventRinging, CallStateFailed, apperrors.ErrTerminalState},
		{CallStateCreated, CallEventTracked, CallStateCreated, apperrors.ErrIllegalTransition},
	}

	for _, tc := range cases {
		got, err := tc.from.Next(tc.event)
		if tc.err == nil && err != nil {
			t.Fatalf("%s + %s: unexpected error %v", tc.from, tc.event, err)
		}
		if tc.err != nil && !errors.Is(err, tc.err) {
			t.Fatalf("%s + %s: expected %v, got %v", tc.from, tc.event, tc.err, err)
		}
		if got != tc.want {
			t.Fatalf("%s + %s: expected %s, got %s", tc.from, tc.event, tc.want, got)
		}
	}
}

func TestParseAnsweredBy(t *testing.T) {
	cases := map[string]AMDResult{
		"human":               AMDResultHuman,
		"machine_end_beep":    AMDResultMachine,
		"machine_end_silence": AMDResultMachine,
		"machine":             AMDResultMachine,
		"fax":                 AMDResultUnknown,
		"unknown":             AMDResultUnknown,
		"":                    AMDResultNone,
	}
	for in, want := range cases {
		if got := ParseAnsweredBy(in); got != want {
			t.Fatalf("ParseAnsweredBy(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestEventForProviderStatus(t *testing.T) {
	if _, ok := EventForProviderStatus("queued"); ok {
		t.Fatalf("queued must be informational")
	}
	if _, ok := EventForProviderStatus("initiated"); ok {
		t.Fatalf("initiated must be informational")
	}
	for _, status := range []string{"busy", "no-answer", "failed", "canceled"} {
		if ev, ok := EventForProviderStatus(status); !ok || ev != CallEventFailed {
			t.Fatalf("%s should map to failed, got %s", status, ev)
		}
	}
	if ev, _ := EventForProviderStatus("in-progress"); ev != CallEventAnswered {
		t.Fatalf("in-progress should map to answered, got %s", ev)
	}
}
