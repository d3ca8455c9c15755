package dialer

import (
	"fmt"
	"sync/atomic"
	"time"
)

// ConferenceNamer mints conference names that are unique per call attempt.
type ConferenceNamer struct {
	outboundPrefix string
	inboundPrefix  string
	seq            atomic.Uint64
	now            func() time.Time
}

// NewConferenceNamer builds a namer with the given prefixes.
func NewConferenceNamer(outboundPrefix, inboundPrefix string) *ConferenceNamer {
	return &ConferenceNamer{
		outboundPrefix: outboundPrefix,
		inboundPrefix:  inboundPrefix,
		now:            time.Now,
	}
}

// Outbound returns a fresh conference name for an agent-initiated call.
func (n *ConferenceNamer) Outbound(agentID string) string {
	return fmt.Sprintf("%s%s_%d-%d", n.outboundPrefix, agentID, n.now().Unix(), n.seq.Add(1))
}

// Inbound derives the conference name from the inbound call SID.
func (n *ConferenceNamer) Inbound(callSID string) string {
	return n.inboundPrefix + callSID
}
