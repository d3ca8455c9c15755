package dialer

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/config"
	"github.com/acme/softdialer/internal/domain"
	"github.com/acme/softdialer/internal/telephony"
	"github.com/acme/softdialer/internal/twiml"
	apperrors "github.com/acme/softdialer/pkg/errors"
	"github.com/acme/softdialer/pkg/logger"
)

const (
	roomPrefix   = "room:"
	clientPrefix = "client:"

	joinPath   = "/webhooks/join"
	amdPath    = "/webhooks/amd"
	statusPath = "/webhooks/status"
)

var tracer = otel.Tracer("softdialer.dialer")

// EventPublisher receives every call state change.
type EventPublisher interface {
	PublishCallEvent(ctx context.Context, event domain.CallEventRecord) error
}

// Settings carries the routing parameters of the orchestrator.
type Settings struct {
	PublicURL        string
	CallerID         string
	HoldMusicURL     string
	BusyMessage      string
	FailureMessage   string
	ApologyMessage   string
	VoicemailURLs    map[string]string
	DefaultVoicemail string
	SweepInterval    time.Duration
}

// SettingsFromConfig collects orchestrator settings from configuration.
func SettingsFromConfig(tel config.TelephonyConfig, cfg config.DialerConfig) Settings {
	return Settings{
		PublicURL:        tel.PublicURL,
		CallerID:         tel.CallerID,
		HoldMusicURL:     cfg.HoldMusicURL,
		BusyMessage:      cfg.BusyMessage,
		FailureMessage:   cfg.FailureMessage,
		ApologyMessage:   cfg.ApologyMessage,
		VoicemailURLs:    cfg.VoicemailURLs,
		DefaultVoicemail: cfg.DefaultVoicemail,
		SweepInterval:    cfg.SweepInterval,
	}
}

// OutboundRequest asks for an agent-initiated call to a customer.
type OutboundRequest struct {
	AgentID   string
	To        string
	Voicemail string
}

// OutboundResult identifies a placed outbound call.
type OutboundResult struct {
	ProviderCallID string `json:"customer_call_sid"`
	Conference     string `json:"conference"`
}

// InboundCall is a customer call arriving at the account number.
type InboundCall struct {
	CallSID string
	From    string
	To      string
}

// VoiceRequest is the softphone application webhook payload.
type VoiceRequest struct {
	To      string
	CallSID string
	From    string
}

// AMDCallback is the answering machine detection result for a call.
type AMDCallback struct {
	AnsweredBy   string
	Conference   string
	CallSID      string
	VoicemailURL string
}

// StatusUpdate is a provider call status callback.
type StatusUpdate struct {
	CallSID    string
	CallStatus string
	Duration   int
}

// Orchestrator routes provider events across the registry and call store.
type Orchestrator struct {
	settings  Settings
	registry  *Registry
	store     *CallStore
	namer     *ConferenceNamer
	provider  telephony.Provider
	publisher EventPublisher
	logger    *logger.Logger
	now       func() time.Time
}

// NewOrchestrator wires the orchestrator. A nil publisher disables event publishing.
func NewOrchestrator(
	settings Settings,
	registry *Registry,
	store *CallStore,
	namer *ConferenceNamer,
	provider telephony.Provider,
	publisher EventPublisher,
	log *logger.Logger,
) *Orchestrator {
	if log == nil {
		log = logger.NewNop()
	}
	return &Orchestrator{
		settings:  settings,
		registry:  registry,
		store:     store,
		namer:     namer,
		provider:  provider,
		publisher: publisher,
		logger:    log,
		now:       time.Now,
	}
}

// PlaceOutbound dials a customer on behalf of an agent with answering machine detection.
func (o *Orchestrator) PlaceOutbound(ctx context.Context, req OutboundRequest) (OutboundResult, error) {
	ctx, span := tracer.Start(ctx, "dialer.place_outbound", trace.WithAttributes(
		attribute.String("agent.id", req.AgentID),
	))
	defer span.End()

	if req.AgentID == "" || req.To == "" {
		return OutboundResult{}, fmt.Errorf("dialer: place outbound: agent_id and to: %w", apperrors.ErrMissingParameter)
	}
	if _, err := o.registry.Get(req.AgentID); err != nil {
		span.RecordError(err)
		return OutboundResult{}, fmt.Errorf("dialer: place outbound: %w", err)
	}

	conference := o.namer.Outbound(req.AgentID)
	fallback := url.Values{
		"Room":         {conference},
		"vm_audio_url": {o.resolveVoicemail(req.Voicemail)},
	}
	callReq := telephony.CallRequest{
		To:                req.To,
		From:              o.settings.CallerID,
		AnswerURL:         o.webhookURL(joinPath, url.Values{"Room": {conference}}),
		FallbackURL:       o.webhookURL(amdPath, fallback),
		StatusCallbackURL: o.webhookURL(statusPath, nil),
		StatusEvents: []string{
			telephony.StatusInitiated,
			telephony.StatusRinging,
			telephony.StatusAnswered,
			telephony.StatusCompleted,
		},
		MachineDetection: true,
		Record:           true,
	}

	sid, err := o.provider.PlaceCall(ctx, callReq)
	if err != nil {
		span.RecordError(err)
		o.logger.WithContext(ctx).Warn("dialer: outbound call rejected",
			zap.String("agent_id", req.AgentID),
			zap.String("conference", conference),
			zap.Error(err),
		)
		return OutboundResult{}, fmt.Errorf("dialer: place outbound: %w", err)
	}

	span.SetAttributes(attribute.String("call.sid", sid), attribute.String("conference", conference))
	attempt := domain.CallAttempt{
		ProviderCallID: sid,
		Conference:     conference,
		AgentID:        req.AgentID,
		Direction:      domain.CallDirectionOutbound,
		Leg:            domain.CallLegCustomer,
		To:             req.To,
		From:           o.settings.CallerID,
	}
	o.store.Track(attempt)
	if err := o.registry.Reserve(req.AgentID, conference); err != nil {
		o.logger.WithContext(ctx).Warn("dialer: reserve agent for outbound call",
			zap.String("agent_id", req.AgentID),
			zap.String("call_sid", sid),
			zap.Error(err),
		)
	}
	o.publishTracked(ctx, sid)

	return OutboundResult{ProviderCallID: sid, Conference: conference}, nil
}

// HandleInbound routes an inbound customer call to the first available agent.
func (o *Orchestrator) HandleInbound(ctx context.Context, call InboundCall) (twiml.Instruction, error) {
	ctx, span := tracer.Start(ctx, "dialer.handle_inbound", trace.WithAttributes(
		attribute.String("call.sid", call.CallSID),
	))
	defer span.End()

	if call.CallSID == "" {
		return twiml.Instruction{}, fmt.Errorf("dialer: inbound: CallSid: %w", apperrors.ErrMissingParameter)
	}

	conference := o.namer.Inbound(call.CallSID)
	agent, ok := o.registry.Claim(conference)
	if !ok {
		o.logger.WithContext(ctx).Info("dialer: no agent available", zap.String("call_sid", call.CallSID))
		return twiml.SayThenHangup(o.settings.BusyMessage), nil
	}
	span.SetAttributes(attribute.String("agent.id", agent.ID), attribute.String("conference", conference))

	o.store.Track(domain.CallAttempt{
		ProviderCallID: call.CallSID,
		Conference:     conference,
		AgentID:        agent.ID,
		Direction:      domain.CallDirectionInbound,
		Leg:            domain.CallLegCustomer,
		To:             call.To,
		From:           call.From,
	})
	o.publishTracked(ctx, call.CallSID)

	agentTo := clientPrefix + agent.Identity
	agentSID, err := o.provider.PlaceCall(ctx, telephony.CallRequest{
		To:                agentTo,
		From:              o.settings.CallerID,
		AnswerURL:         o.webhookURL(joinPath, url.Values{"Room": {conference}}),
		StatusCallbackURL: o.webhookURL(statusPath, nil),
		StatusEvents:      []string{telephony.StatusAnswered, telephony.StatusCompleted},
	})
	if err != nil {
		span.RecordError(err)
		o.logger.WithContext(ctx).Error("dialer: ring agent",
			zap.String("agent_id", agent.ID),
			zap.String("conference", conference),
			zap.Error(err),
		)
		if _, rerr := o.registry.Release(agent.ID, conference); rerr != nil {
			o.logger.WithContext(ctx).Warn("dialer: roll back claim", zap.String("agent_id", agent.ID), zap.Error(rerr))
		}
		o.store.Put(call.CallSID, conference, "")
		return twiml.HoldThenRing(conference, o.settings.HoldMusicURL).WithApology(o.settings.ApologyMessage), nil
	}

	o.store.Track(domain.CallAttempt{
		ProviderCallID: agentSID,
		Conference:     conference,
		AgentID:        agent.ID,
		Direction:      domain.CallDirectionInbound,
		Leg:            domain.CallLegAgent,
		To:             agentTo,
		From:           o.settings.CallerID,
	})
	o.publishTracked(ctx, agentSID)

	return twiml.HoldThenRing(conference, o.settings.HoldMusicURL), nil
}

// HandleVoice answers the softphone application webhook. A "room:<name>"
// destination joins the agent to that conference; anything else is routed
// like an inbound call.
func (o *Orchestrator) HandleVoice(ctx context.Context, req VoiceRequest) (twiml.Instruction, error) {
	if room, ok := strings.CutPrefix(req.To, roomPrefix); ok {
		return o.JoinInstruction(room)
	}
	return o.HandleInbound(ctx, InboundCall{CallSID: req.CallSID, From: req.From, To: req.To})
}

// JoinInstruction bridges the caller into the named conference.
func (o *Orchestrator) JoinInstruction(room string) (twiml.Instruction, error) {
	if strings.TrimSpace(room) == "" {
		return twiml.Instruction{}, fmt.Errorf("dialer: join: Room: %w", apperrors.ErrMissingParameter)
	}
	return twiml.Join(room), nil
}

// HandleAMD turns an answering machine detection result into call control.
func (o *Orchestrator) HandleAMD(ctx context.Context, cb AMDCallback) twiml.Instruction {
	ctx, span := tracer.Start(ctx, "dialer.handle_amd", trace.WithAttributes(
		attribute.String("call.sid", cb.CallSID),
		attribute.String("amd.answered_by", cb.AnsweredBy),
	))
	defer span.End()

	result := domain.ParseAnsweredBy(cb.AnsweredBy)
	assignable := false
	if cb.CallSID != "" {
		tr, err := o.store.Apply(cb.CallSID, domain.EventForAMD(result), o.now())
		switch {
		case err == nil:
			assignable = true
			if tr.Changed() {
				o.publish(ctx, domain.EventForAMD(result), tr, 0)
			}
		case errors.Is(err, apperrors.ErrTerminalState):
			o.logger.WithContext(ctx).Debug("dialer: amd after terminal state", zap.String("call_sid", cb.CallSID))
		case errors.Is(err, apperrors.ErrNotFound):
			o.logger.WithContext(ctx).Debug("dialer: amd for untracked call", zap.String("call_sid", cb.CallSID))
		default:
			o.logger.WithContext(ctx).Warn("dialer: amd transition", zap.String("call_sid", cb.CallSID), zap.Error(err))
		}
	}

	switch result {
	case domain.AMDResultHuman:
		meta, tracked := o.store.Get(cb.CallSID)
		conference := cb.Conference
		if conference == "" {
			conference = meta.Conference
		}
		if conference == "" {
			return twiml.SayThenHangup(o.settings.FailureMessage)
		}
		if tracked && meta.AgentID != "" && assignable {
			if err := o.registry.Assign(meta.AgentID, conference); err != nil {
				span.RecordError(err)
				o.logger.WithContext(ctx).Warn("dialer: assign agent", zap.String("agent_id", meta.AgentID), zap.Error(err))
			}
		}
		return twiml.Join(conference)
	case domain.AMDResultMachine:
		voicemail := cb.VoicemailURL
		if voicemail == "" {
			voicemail = o.settings.VoicemailURLs[o.settings.DefaultVoicemail]
		}
		if voicemail == "" {
			return twiml.SayThenHangup(o.settings.FailureMessage)
		}
		return twiml.PlayThenHangup(voicemail)
	default:
		return twiml.SayThenHangup(o.settings.FailureMessage)
	}
}

// HandleStatus applies a provider status callback and releases the agent
// when the call ends.
func (o *Orchestrator) HandleStatus(ctx context.Context, upd StatusUpdate) {
	ctx, span := tracer.Start(ctx, "dialer.handle_status", trace.WithAttributes(
		attribute.String("call.sid", upd.CallSID),
		attribute.String("call.status", upd.CallStatus),
	))
	defer span.End()

	event, ok := domain.EventForProviderStatus(upd.CallStatus)
	if !ok || upd.CallSID == "" {
		return
	}

	tr, err := o.store.Apply(upd.CallSID, event, o.now())
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			o.logger.WithContext(ctx).Debug("dialer: status for untracked call",
				zap.String("call_sid", upd.CallSID),
				zap.String("status", upd.CallStatus),
			)
			return
		}
		span.RecordError(err)
		o.logger.WithContext(ctx).Warn("dialer: status transition", zap.String("call_sid", upd.CallSID), zap.Error(err))
		return
	}

	if tr.EnteredTerminal() && tr.Attempt.AgentID != "" {
		released, err := o.registry.Release(tr.Attempt.AgentID, tr.Attempt.Conference)
		if err != nil {
			o.logger.WithContext(ctx).Warn("dialer: release agent", zap.String("agent_id", tr.Attempt.AgentID), zap.Error(err))
		} else if released {
			o.logger.WithContext(ctx).Info("dialer: agent released",
				zap.String("agent_id", tr.Attempt.AgentID),
				zap.String("conference", tr.Attempt.Conference),
			)
		}
	}
	if tr.Changed() {
		o.publish(ctx, event, tr, upd.Duration)
	}
}

// SendVoicemail places a call that only plays the keyed voicemail recording.
func (o *Orchestrator) SendVoicemail(ctx context.Context, to, key string) (string, error) {
	ctx, span := tracer.Start(ctx, "dialer.send_voicemail")
	defer span.End()

	if to == "" {
		return "", fmt.Errorf("dialer: voicemail: to: %w", apperrors.ErrMissingParameter)
	}
	audio, ok := o.settings.VoicemailURLs[key]
	if !ok || audio == "" {
		return "", fmt.Errorf("dialer: voicemail: unknown key %q: %w", key, apperrors.ErrMissingParameter)
	}

	doc, err := twiml.Render(twiml.PlayThenHangup(audio))
	if err != nil {
		return "", fmt.Errorf("dialer: voicemail: %w", err)
	}
	sid, err := o.provider.PlaceCall(ctx, telephony.CallRequest{
		To:    to,
		From:  o.settings.CallerID,
		Twiml: string(doc),
	})
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("dialer: voicemail: %w", err)
	}
	return sid, nil
}

// RegisterAgent adds or refreshes an agent as available.
func (o *Orchestrator) RegisterAgent(agentID, identity string) (domain.Agent, error) {
	if agentID == "" {
		return domain.Agent{}, fmt.Errorf("dialer: register agent: agent_id: %w", apperrors.ErrMissingParameter)
	}
	if identity == "" {
		identity = agentID
	}
	return o.registry.Register(agentID, identity), nil
}

// AgentStatus returns the agent's availability.
func (o *Orchestrator) AgentStatus(agentID string) (domain.AgentStatus, error) {
	return o.registry.GetStatus(agentID)
}

// Agent returns the agent's live registry entry.
func (o *Orchestrator) Agent(agentID string) (domain.Agent, error) {
	return o.registry.Get(agentID)
}

// Agents returns every registered agent.
func (o *Orchestrator) Agents() []domain.Agent {
	return o.registry.Snapshot()
}

// RunSweeper evicts expired call metadata until the context is cancelled.
func (o *Orchestrator) RunSweeper(ctx context.Context) error {
	interval := o.settings.SweepInterval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if removed := o.store.Sweep(o.now()); removed > 0 {
				o.logger.Debug("dialer: swept call metadata", zap.Int("removed", removed), zap.Int("remaining", o.store.Len()))
			}
		}
	}
}

func (o *Orchestrator) resolveVoicemail(value string) string {
	if value == "" {
		return o.settings.VoicemailURLs[o.settings.DefaultVoicemail]
	}
	if audio, ok := o.settings.VoicemailURLs[value]; ok {
		return audio
	}
	return value
}

func (o *Orchestrator) webhookURL(path string, query url.Values) string {
	base := strings.TrimRight(o.settings.PublicURL, "/") + path
	if len(query) == 0 {
		return base
	}
	return base + "?" + query.Encode()
}

func (o *Orchestrator) publishTracked(ctx context.Context, callSID string) {
	attempt, ok := o.store.Attempt(callSID)
	if !ok {
		return
	}
	o.publish(ctx, domain.CallEventTracked, Transition{From: attempt.State, To: attempt.State, Attempt: attempt}, 0)
}

func (o *Orchestrator) publish(ctx context.Context, event domain.CallEvent, tr Transition, duration int) {
	if o.publisher == nil {
		return
	}
	a := tr.Attempt
	record := domain.CallEventRecord{
		ProviderCallID: a.ProviderCallID,
		EventID:        uuid.New(),
		Event:          event,
		State:          tr.To,
		Conference:     a.Conference,
		AgentID:        a.AgentID,
		Direction:      a.Direction,
		Leg:            a.Leg,
		AnsweredBy:     a.AMD,
		To:             a.To,
		From:           a.From,
		Duration:       duration,
		OccurredAt:     a.UpdatedAt.UTC(),
	}
	if err := o.publisher.PublishCallEvent(ctx, record); err != nil {
		o.logger.WithContext(ctx).Warn("dialer: publish call event",
			zap.String("call_sid", a.ProviderCallID),
			zap.String("event", string(event)),
			zap.Error(err),
		)
	}
}
