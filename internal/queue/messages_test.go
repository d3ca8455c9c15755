package queue

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/acme/softdialer/internal/domain"
)

func TestCallEventMessageCarriesTerminalFlag(t *testing.T) {
	ev := domain.CallEventRecord{
		ProviderCallID: "CA1",
		EventID:        uuid.New(),
		Event:          domain.CallEventCompleted,
		State:          domain.CallStateCompleted,
		Conference:     "conf_A1_1-1",
		AgentID:        "A1",
		Direction:      domain.CallDirectionOutbound,
		Leg:            domain.CallLegCustomer,
		AnsweredBy:     domain.AMDResultHuman,
		Duration:       42,
		OccurredAt:     time.Unix(1700000000, 0).UTC(),
	}

	msg := NewCallEventMessage(ev)
	if !msg.Terminal {
		t.Fatalf("completed state should be terminal")
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var decoded CallEventMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	back := decoded.Record()
	if back.ProviderCallID != ev.ProviderCallID || back.State != ev.State || back.Duration != 42 || back.EventID != ev.EventID {
		t.Fatalf("unexpected round trip %+v", back)
	}
	if !back.OccurredAt.Equal(ev.OccurredAt) {
		t.Fatalf("occurred_at changed: %v", back.OccurredAt)
	}
}
