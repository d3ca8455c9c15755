package dialer

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/telephony"
	"github.com/acme/softdialer/internal/telephony/mock"
	"github.com/acme/softdialer/internal/twiml"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

type recordingPublisher struct {
	mu     sync.Mutex
	events []domain.CallEventRecord
	err    error
}

func (p *recordingPublisher) PublishCallEvent(_ context.Context, ev domain.CallEventRecord) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return p.err
}

func (p *recordingPublisher) states() []domain.CallState {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]domain.CallState, 0, len(p.events))
	for _, ev := range p.events {
		out = append(out, ev.State)
	}
	return out
}

func testSettings() Settings {
	return Settings{
		PublicURL:      "https://dialer.example.com/",
		CallerID:       "+15550000000",
		HoldMusicURL:   "https://hold.example.com/music",
		BusyMessage:    "All agents are busy.",
		FailureMessage: "The call could not be completed.",
		ApologyMessage: "Sorry, please hold.",
		VoicemailURLs: map[string]string{
			"male":   "https://cdn.example.com/male.wav",
			"female": "https://cdn.example.com/female.wav",
		},
		DefaultVoicemail: "male",
		SweepInterval:    time.Millisecond,
	}
}

func newTestOrchestrator(t *testing.T) (*Orchestrator, *Registry, *CallStore, *mock.Provider, *recordingPublisher) {
	t.Helper()
	registry := NewRegistry()
	store := NewCallStore(10*time.Minute, 12*time.Hour)
	provider := mock.NewProvider()
	pub := &recordingPublisher{}
	o := NewOrchestrator(testSettings(), registry, store, NewConferenceNamer("conf_", "incoming_conf_"), provider, pub, nil)
	return o, registry, store, provider, pub
}

func TestPlaceOutboundUnknownAgent(t *testing.T) {
	o, _, _, provider, _ := newTestOrchestrator(t)

	_, err := o.PlaceOutbound(context.Background(), OutboundRequest{AgentID: "ghost", To: "+15551234567"})
	if !errors.Is(err, apperrors.ErrUnknownAgent) {
		t.Fatalf("expected ErrUnknownAgent, got %v", err)
	}
	if n := len(provider.Requests()); n != 0 {
		t.Fatalf("expected no provider call, got %d", n)
	}
}

func TestPlaceOutbound(t *testing.T) {
	o, registry, store, provider, pub := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")

	res, err := o.PlaceOutbound(context.Background(), OutboundRequest{AgentID: "A1", To: "+15551234567", Voicemail: "female"})
	if err != nil {
		t.Fatalf("place outbound: %v", err)
	}
	if !strings.HasPrefix(res.Conference, "conf_A1_") {
		t.Fatalf("unexpected conference %s", res.Conference)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 {
		t.Fatalf("expected one provider call, got %d", len(reqs))
	}
	req := reqs[0]
	if req.To != "+15551234567" || req.From != "+15550000000" || !req.MachineDetection || !req.Record {
		t.Fatalf("unexpected call request %+v", req)
	}
	if want := "https://dialer.example.com/webhooks/join?Room=" + url.QueryEscape(res.Conference); req.AnswerURL != want {
		t.Fatalf("answer url = %s, want %s", req.AnswerURL, want)
	}
	fallback, err := url.Parse(req.FallbackURL)
	if err != nil {
		t.Fatalf("parse fallback: %v", err)
	}
	if fallback.Path != "/webhooks/amd" || fallback.Query().Get("Room") != res.Conference {
		t.Fatalf("unexpected fallback %s", req.FallbackURL)
	}
	if fallback.Query().Get("vm_audio_url") != "https://cdn.example.com/female.wav" {
		t.Fatalf("unexpected voicemail in fallback %s", req.FallbackURL)
	}
	if len(req.StatusEvents) != 4 {
		t.Fatalf("unexpected status events %v", req.StatusEvents)
	}

	meta, ok := store.Get(res.ProviderCallID)
	if !ok || meta.AgentID != "A1" || meta.Conference != res.Conference {
		t.Fatalf("call not tracked: %+v", meta)
	}
	agent, _ := registry.Get("A1")
	if agent.Status != domain.AgentStatusBusy || agent.Conference != res.Conference {
		t.Fatalf("placement must reserve the agent on its conference, got %+v", agent)
	}
	if states := pub.states(); len(states) != 1 || states[0] != domain.CallStateCreated {
		t.Fatalf("expected tracked event, got %v", states)
	}
}

func TestPlaceOutboundProviderError(t *testing.T) {
	o, registry, store, provider, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	provider.FailCallsTo("+1bad", &telephony.ProviderError{Code: 21211, Message: "invalid number"})

	_, err := o.PlaceOutbound(context.Background(), OutboundRequest{AgentID: "A1", To: "+1bad"})
	var perr *telephony.ProviderError
	if !errors.As(err, &perr) || perr.Message != "invalid number" {
		t.Fatalf("expected provider error, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("failed placement must not be tracked")
	}
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("agent status changed to %s", status)
	}
}

func TestHandleInboundConcurrentSingleAgent(t *testing.T) {
	o, registry, _, provider, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")

	sids := []string{"CA1", "CA2"}
	results := make([]twiml.Instruction, len(sids))
	var wg sync.WaitGroup
	for i, sid := range sids {
		wg.Add(1)
		go func(i int, sid string) {
			defer wg.Done()
			in, err := o.HandleInbound(context.Background(), InboundCall{CallSID: sid, From: "+1555"})
			if err != nil {
				t.Errorf("inbound %s: %v", sid, err)
			}
			results[i] = in
		}(i, sid)
	}
	wg.Wait()

	var routed, busy int
	for _, in := range results {
		switch in.Kind {
		case twiml.KindHoldThenRing:
			routed++
		case twiml.KindSayThenHangup:
			if in.Message != "All agents are busy." {
				t.Fatalf("unexpected busy message %q", in.Message)
			}
			busy++
		default:
			t.Fatalf("unexpected instruction %+v", in)
		}
	}
	if routed != 1 || busy != 1 {
		t.Fatalf("expected one routed and one busy, got routed=%d busy=%d", routed, busy)
	}

	reqs := provider.Requests()
	if len(reqs) != 1 || reqs[0].To != "client:agent_a1" {
		t.Fatalf("expected a single ring to the agent, got %+v", reqs)
	}
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusBusy {
		t.Fatalf("expected agent busy, got %s", status)
	}
}

func TestHandleInboundRingFailureRollsBack(t *testing.T) {
	o, registry, store, provider, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	provider.FailCallsTo("client:agent_a1", errors.New("boom"))

	in, err := o.HandleInbound(context.Background(), InboundCall{CallSID: "CA1"})
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if in.Kind != twiml.KindHoldThenRing || in.Apology == "" || in.Conference != "incoming_conf_CA1" {
		t.Fatalf("unexpected instruction %+v", in)
	}
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("claim was not rolled back, status %s", status)
	}
	if meta, _ := store.Get("CA1"); meta.AgentID != "" {
		t.Fatalf("customer leg still owned by %s", meta.AgentID)
	}
}

func TestHandleVoiceRoom(t *testing.T) {
	o, _, _, provider, _ := newTestOrchestrator(t)

	in, err := o.HandleVoice(context.Background(), VoiceRequest{To: "room:conf_A1_1-1"})
	if err != nil {
		t.Fatalf("voice: %v", err)
	}
	if in.Kind != twiml.KindJoin || in.Conference != "conf_A1_1-1" {
		t.Fatalf("unexpected instruction %+v", in)
	}
	if len(provider.Requests()) != 0 {
		t.Fatalf("room join must not place calls")
	}

	if _, err := o.HandleVoice(context.Background(), VoiceRequest{To: "room:"}); !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Fatalf("expected ErrMissingParameter, got %v", err)
	}
}

func TestJoinInstructionRequiresRoom(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t)
	if _, err := o.JoinInstruction(""); !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Fatalf("expected ErrMissingParameter, got %v", err)
	}
	in, err := o.JoinInstruction("room-1")
	if err != nil || in.Kind != twiml.KindJoin || in.Conference != "room-1" {
		t.Fatalf("unexpected join %+v err=%v", in, err)
	}
}

func TestHandleAMDHumanJoinsExactConference(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "CA1", Conference: "conf_stored", AgentID: "A1"})

	in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: "conf_passed", CallSID: "CA1"})
	if in.Kind != twiml.KindJoin || in.Conference != "conf_passed" {
		t.Fatalf("expected join of conf_passed, got %+v", in)
	}
	agent, _ := registry.Get("A1")
	if agent.Status != domain.AgentStatusBusy || agent.Conference != "conf_passed" {
		t.Fatalf("expected agent busy on conference, got %+v", agent)
	}
	attempt, _ := store.Attempt("CA1")
	if attempt.State != domain.CallStateJoined || attempt.AMD != domain.AMDResultHuman {
		t.Fatalf("unexpected attempt %+v", attempt)
	}
}

func TestHandleAMDHumanUntracked(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t)

	in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: "conf_x", CallSID: "CA404"})
	if in.Kind != twiml.KindJoin || in.Conference != "conf_x" {
		t.Fatalf("expected join, got %+v", in)
	}

	in = o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", CallSID: "CA404"})
	if in.Kind != twiml.KindSayThenHangup {
		t.Fatalf("expected failure without any conference, got %+v", in)
	}
}

func TestHandleAMDMachinePlaysExactURL(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "CA1", Conference: "c", AgentID: "A1"})

	for _, answeredBy := range []string{"machine", "machine_end_beep", "machine_start"} {
		in := o.HandleAMD(context.Background(), AMDCallback{
			AnsweredBy:   answeredBy,
			Conference:   "c",
			CallSID:      "CA1",
			VoicemailURL: "https://cdn.example.com/custom.wav",
		})
		if in.Kind != twiml.KindPlayThenHangup || in.URL != "https://cdn.example.com/custom.wav" {
			t.Fatalf("%s: expected play of exact url, got %+v", answeredBy, in)
		}
	}
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("machine result must not touch the agent, got %s", status)
	}

	in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "machine", CallSID: "CA2"})
	if in.Kind != twiml.KindPlayThenHangup || in.URL != "https://cdn.example.com/male.wav" {
		t.Fatalf("expected default voicemail, got %+v", in)
	}
}

func TestHandleAMDUnrecognized(t *testing.T) {
	o, _, _, _, _ := newTestOrchestrator(t)

	for _, answeredBy := range []string{"unknown", "fax", "", "???"} {
		in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: answeredBy, Conference: "c", CallSID: "CA1"})
		if in.Kind != twiml.KindSayThenHangup || in.Message != "The call could not be completed." {
			t.Fatalf("%q: expected failure say, got %+v", answeredBy, in)
		}
		doc, err := twiml.Render(in)
		if err != nil || len(doc) == 0 {
			t.Fatalf("%q: failure instruction did not render: %v", answeredBy, err)
		}
	}
}

func TestHandleAMDAfterTerminalLeavesAgent(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "CA1", Conference: "c", AgentID: "A1"})
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: "CA1", CallStatus: "completed"})

	in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: "c", CallSID: "CA1"})
	if in.Kind != twiml.KindJoin {
		t.Fatalf("expected join instruction, got %+v", in)
	}
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("late amd must not mark the agent busy, got %s", status)
	}
}

func TestHandleAMDHumanAfterVoicemailLeavesAgent(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "CA1", Conference: "c", AgentID: "A1"})

	o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "machine", Conference: "c", CallSID: "CA1"})
	o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: "c", CallSID: "CA1"})

	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("rejected transition must not mark the agent busy, got %s", status)
	}
	attempt, _ := store.Attempt("CA1")
	if attempt.State != domain.CallStateVoicemail {
		t.Fatalf("expected voicemail state kept, got %s", attempt.State)
	}
}

func TestOutboundInFlightBlocksInboundClaim(t *testing.T) {
	o, registry, _, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	ctx := context.Background()

	res, err := o.PlaceOutbound(ctx, OutboundRequest{AgentID: "A1", To: "+15551234567"})
	if err != nil {
		t.Fatalf("place outbound: %v", err)
	}

	in, err := o.HandleInbound(ctx, InboundCall{CallSID: "CAin1"})
	if err != nil {
		t.Fatalf("inbound: %v", err)
	}
	if in.Kind != twiml.KindSayThenHangup || in.Message != "All agents are busy." {
		t.Fatalf("inbound during outbound dial must be refused, got %+v", in)
	}

	in = o.HandleAMD(ctx, AMDCallback{AnsweredBy: "human", Conference: res.Conference, CallSID: res.ProviderCallID})
	if in.Kind != twiml.KindJoin || in.Conference != res.Conference {
		t.Fatalf("expected join of outbound conference, got %+v", in)
	}
	agent, _ := registry.Get("A1")
	if agent.Status != domain.AgentStatusBusy || agent.Conference != res.Conference {
		t.Fatalf("expected agent busy on outbound conference, got %+v", agent)
	}

	o.HandleStatus(ctx, StatusUpdate{CallSID: res.ProviderCallID, CallStatus: "completed"})
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("expected agent released after outbound completed, got %s", status)
	}

	in, err = o.HandleInbound(ctx, InboundCall{CallSID: "CAin2"})
	if err != nil {
		t.Fatalf("second inbound: %v", err)
	}
	if in.Kind != twiml.KindHoldThenRing {
		t.Fatalf("expected second inbound to reach the freed agent, got %+v", in)
	}
	agent, _ = registry.Get("A1")
	if agent.Conference != "incoming_conf_CAin2" {
		t.Fatalf("expected agent on the second inbound conference, got %+v", agent)
	}
}

func TestHandleAMDHumanDoesNotStealBusyAgent(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "CAout", Conference: "conf_out", AgentID: "A1"})
	if _, ok := registry.Claim("incoming_conf_CAin"); !ok {
		t.Fatalf("claim failed")
	}

	in := o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: "conf_out", CallSID: "CAout"})
	if in.Kind != twiml.KindJoin {
		t.Fatalf("expected join instruction, got %+v", in)
	}
	agent, _ := registry.Get("A1")
	if agent.Conference != "incoming_conf_CAin" {
		t.Fatalf("agent on a live inbound call was reassigned: %+v", agent)
	}

	o.HandleStatus(context.Background(), StatusUpdate{CallSID: "CAout", CallStatus: "completed"})
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusBusy {
		t.Fatalf("outbound completion freed an agent still on an inbound call, got %s", status)
	}
}

func TestHandleStatusReleasesAgent(t *testing.T) {
	o, registry, _, _, pub := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")

	res, err := o.PlaceOutbound(context.Background(), OutboundRequest{AgentID: "A1", To: "+15551234567"})
	if err != nil {
		t.Fatalf("place outbound: %v", err)
	}
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: res.ProviderCallID, CallStatus: "initiated"})
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: res.ProviderCallID, CallStatus: "ringing"})
	o.HandleAMD(context.Background(), AMDCallback{AnsweredBy: "human", Conference: res.Conference, CallSID: res.ProviderCallID})
	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusBusy {
		t.Fatalf("expected busy after human answer, got %s", status)
	}
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: res.ProviderCallID, CallStatus: "in-progress"})
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: res.ProviderCallID, CallStatus: "completed", Duration: 42})

	if status, _ := registry.GetStatus("A1"); status != domain.AgentStatusAvailable {
		t.Fatalf("expected agent released, got %s", status)
	}

	want := []domain.CallState{
		domain.CallStateCreated,
		domain.CallStateRinging,
		domain.CallStateJoined,
		domain.CallStateCompleted,
	}
	got := pub.states()
	if len(got) != len(want) {
		t.Fatalf("published states %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("published states %v, want %v", got, want)
		}
	}
	if last := pub.events[len(pub.events)-1]; last.Duration != 42 {
		t.Fatalf("expected duration on terminal event, got %d", last.Duration)
	}
}

func TestHandleStatusLateCompletionKeepsNewerCall(t *testing.T) {
	o, registry, store, _, _ := newTestOrchestrator(t)
	registry.Register("A1", "agent_a1")
	store.Track(domain.CallAttempt{ProviderCallID: "old", Conference: "conf_old", AgentID: "A1"})
	if err := registry.Assign("A1", "conf_new"); err != nil {
		t.Fatalf("assign: %v", err)
	}

	o.HandleStatus(context.Background(), StatusUpdate{CallSID: "old", CallStatus: "completed"})

	agent, _ := registry.Get("A1")
	if agent.Status != domain.AgentStatusBusy || agent.Conference != "conf_new" {
		t.Fatalf("late completion freed an agent on a newer call: %+v", agent)
	}
}

func TestHandleStatusUnknownCallIsNoop(t *testing.T) {
	o, _, store, _, pub := newTestOrchestrator(t)
	o.HandleStatus(context.Background(), StatusUpdate{CallSID: "nope", CallStatus: "completed"})
	if store.Len() != 0 || len(pub.states()) != 0 {
		t.Fatalf("unknown call should be ignored")
	}
}

func TestPublishFailureDoesNotFailPlacement(t *testing.T) {
	o, registry, _, _, pub := newTestOrchestrator(t)
	pub.err = errors.New("broker down")
	registry.Register("A1", "agent_a1")

	if _, err := o.PlaceOutbound(context.Background(), OutboundRequest{AgentID: "A1", To: "+1555"}); err != nil {
		t.Fatalf("publish failure leaked into placement: %v", err)
	}
}

func TestSendVoicemail(t *testing.T) {
	o, _, _, provider, _ := newTestOrchestrator(t)

	sid, err := o.SendVoicemail(context.Background(), "+15551234567", "female")
	if err != nil || sid == "" {
		t.Fatalf("send voicemail: sid=%q err=%v", sid, err)
	}
	reqs := provider.Requests()
	if len(reqs) != 1 || !strings.Contains(reqs[0].Twiml, "<Play>https://cdn.example.com/female.wav</Play>") {
		t.Fatalf("unexpected voicemail request %+v", reqs)
	}

	if _, err := o.SendVoicemail(context.Background(), "+1555", "robot"); !errors.Is(err, apperrors.ErrMissingParameter) {
		t.Fatalf("expected ErrMissingParameter, got %v", err)
	}
}

func TestRunSweeperStopsOnCancel(t *testing.T) {
	o, _, store, _, _ := newTestOrchestrator(t)
	store.retention = 0
	store.Track(domain.CallAttempt{ProviderCallID: "CA1"})
	if _, err := store.Apply("CA1", domain.CallEventFailed, time.Now().Add(-time.Second)); err != nil {
		t.Fatalf("apply: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- o.RunSweeper(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for store.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if store.Len() != 0 {
		t.Fatalf("sweeper did not evict the failed attempt")
	}
}
