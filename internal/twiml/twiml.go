// Package twiml builds the call-control documents returned to provider webhooks.
package twiml

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"strings"
)

// Kind tells which document shape an Instruction renders to.
type Kind string

const (
	KindJoin           Kind = "join"
	KindPlayThenHangup Kind = "play_then_hangup"
	KindSayThenHangup  Kind = "say_then_hangup"
	KindHoldThenRing   Kind = "hold_then_ring"
)

// FallbackMessage is spoken when an instruction cannot be rendered.
const FallbackMessage = "We are unable to process your call at this time."

// Instruction is a provider-neutral description of what a live call should do next.
type Instruction struct {
	Kind       Kind
	Conference string
	URL        string
	Message    string
	Apology    string
}

// Join bridges the call into the named conference.
func Join(conference string) Instruction {
	return Instruction{Kind: KindJoin, Conference: conference}
}

// PlayThenHangup plays an audio file and ends the call.
func PlayThenHangup(url string) Instruction {
	return Instruction{Kind: KindPlayThenHangup, URL: url}
}

// SayThenHangup speaks a message and ends the call.
func SayThenHangup(message string) Instruction {
	return Instruction{Kind: KindSayThenHangup, Message: message}
}

// HoldThenRing parks the caller in the conference with hold music until an agent joins.
func HoldThenRing(conference, holdURL string) Instruction {
	return Instruction{Kind: KindHoldThenRing, Conference: conference, URL: holdURL}
}

// WithApology prefixes the instruction with a spoken message.
func (i Instruction) WithApology(message string) Instruction {
	i.Apology = message
	return i
}

type response struct {
	XMLName xml.Name `xml:"Response"`
	Verbs   []any    `xml:",any"`
}

type say struct {
	XMLName xml.Name `xml:"Say"`
	Text    string   `xml:",chardata"`
}

type play struct {
	XMLName xml.Name `xml:"Play"`
	URL     string   `xml:",chardata"`
}

type hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

type dial struct {
	XMLName    xml.Name   `xml:"Dial"`
	Conference conference `xml:"Conference"`
}

type conference struct {
	Name                   string `xml:",chardata"`
	StartConferenceOnEnter bool   `xml:"startConferenceOnEnter,attr"`
	EndConferenceOnExit    bool   `xml:"endConferenceOnExit,attr"`
	WaitURL                string `xml:"waitUrl,attr,omitempty"`
}

var errEmpty = errors.New("twiml: empty value")

func verbs(in Instruction) ([]any, error) {
	var out []any
	if msg := strings.TrimSpace(in.Apology); msg != "" {
		out = append(out, say{Text: msg})
	}

	switch in.Kind {
	case KindJoin:
		if strings.TrimSpace(in.Conference) == "" {
			return nil, fmt.Errorf("%w: conference", errEmpty)
		}
		out = append(out, dial{Conference: conference{
			Name:                   in.Conference,
			StartConferenceOnEnter: true,
			EndConferenceOnExit:    true,
		}})
	case KindHoldThenRing:
		if strings.TrimSpace(in.Conference) == "" {
			return nil, fmt.Errorf("%w: conference", errEmpty)
		}
		out = append(out, dial{Conference: conference{
			Name:                   in.Conference,
			StartConferenceOnEnter: false,
			EndConferenceOnExit:    true,
			WaitURL:                in.URL,
		}})
	case KindPlayThenHangup:
		if strings.TrimSpace(in.URL) == "" {
			return nil, fmt.Errorf("%w: play url", errEmpty)
		}
		out = append(out, play{URL: in.URL}, hangup{})
	case KindSayThenHangup:
		if strings.TrimSpace(in.Message) == "" {
			return nil, fmt.Errorf("%w: message", errEmpty)
		}
		out = append(out, say{Text: in.Message}, hangup{})
	default:
		return nil, fmt.Errorf("twiml: unknown instruction kind %q", in.Kind)
	}
	return out, nil
}

// Render encodes the instruction as a TwiML document with the XML header.
func Render(in Instruction) ([]byte, error) {
	v, err := verbs(in)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	if err := enc.Encode(response{Verbs: v}); err != nil {
		return nil, fmt.Errorf("twiml: encode: %w", err)
	}
	if err := enc.Flush(); err != nil {
		return nil, fmt.Errorf("twiml: flush: %w", err)
	}
	return buf.Bytes(), nil
}

// RenderOrFallback renders the instruction, substituting a spoken failure
// message when the instruction is not renderable. The result is never empty.
func RenderOrFallback(in Instruction) []byte {
	if doc, err := Render(in); err == nil {
		return doc
	}
	doc, err := Render(SayThenHangup(FallbackMessage))
	if err != nil {
		return []byte(xml.Header + "<Response><Hangup></Hangup></Response>")
	}
	return doc
}
