package handlers

import (
	"net/http"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/acme/softdialer/internal/dialer"
	"github.com/acme/softdialer/internal/domain"
	callsvc "github.com/acme/softdialer/internal/service/call"
)

type placeCallRequest struct {
	AgentID   string `json:"agent_id"`
	To        string `json:"to"`
	Voicemail string `json:"voicemail"`
}

func (h *HandlerSet) placeCall(ctx *fiber.Ctx) error {
	var req placeCallRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	result, err := h.dialer.PlaceOutbound(ctx.UserContext(), dialer.OutboundRequest{
		AgentID:   req.AgentID,
		To:        req.To,
		Voicemail: req.Voicemail,
	})
	if err != nil {
		return translateError(err)
	}

	return ctx.Status(http.StatusOK).JSON(result)
}

type callRecordResponse struct {
	ID             uuid.UUID `json:"id"`
	UserID         *int64    `json:"user_id,omitempty"`
	CallerNumber   string    `json:"caller_number"`
	Status         string    `json:"status"`
	Name           string    `json:"name,omitempty"`
	Duration       *int      `json:"duration,omitempty"`
	ProviderCallID *string   `json:"call_sid,omitempty"`
	AgentID        *string   `json:"agent_id,omitempty"`
	Timestamp      time.Time `json:"call_timestamp"`
	Note           *string   `json:"note,omitempty"`
}

func toCallRecordResponse(r *domain.CallRecord) callRecordResponse {
	return callRecordResponse{
		ID:             r.ID,
		UserID:         r.UserID,
		CallerNumber:   r.CallerNumber,
		Status:         r.Status,
		Name:           r.Name,
		Duration:       r.DurationSeconds,
		ProviderCallID: r.ProviderCallID,
		AgentID:        r.AgentID,
		Timestamp:      r.Timestamp,
		Note:           r.Note,
	}
}

func (h *HandlerSet) listCalls(ctx *fiber.Ctx) error {
	records, err := h.calls.ListRecords(ctx.UserContext(), ctx.QueryInt("limit", 0))
	if err != nil {
		return translateError(err)
	}

	resp := make([]callRecordResponse, 0, len(records))
	for i := range records {
		resp = append(resp, toCallRecordResponse(&records[i]))
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"calls": resp})
}

type saveRecordRequest struct {
	UserID       *int64 `json:"user_id"`
	CallerNumber string `json:"caller_number"`
	Status       string `json:"status"`
	Name         string `json:"name"`
	Duration     *int   `json:"duration"`
	CallSID      string `json:"call_sid"`
	AgentID      string `json:"agent_id"`
	Note         string `json:"note"`
}

func (h *HandlerSet) saveRecord(ctx *fiber.Ctx) error {
	var req saveRecordRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	record, err := h.calls.SaveRecord(ctx.UserContext(), callsvc.SaveRecordInput{
		UserID:         req.UserID,
		CallerNumber:   req.CallerNumber,
		Status:         req.Status,
		Name:           req.Name,
		Duration:       req.Duration,
		ProviderCallID: req.CallSID,
		AgentID:        req.AgentID,
		Note:           req.Note,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(toCallRecordResponse(record))
}

type addNoteRequest struct {
	UserID int64  `json:"user_id"`
	Note   string `json:"note"`
}

func (h *HandlerSet) addNote(ctx *fiber.Ctx) error {
	var req addNoteRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	record, err := h.calls.AddNote(ctx.UserContext(), req.UserID, req.Note)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(toCallRecordResponse(record))
}

type callEventResponse struct {
	EventID    uuid.UUID `json:"event_id"`
	Event      string    `json:"event"`
	State      string    `json:"state"`
	Conference string    `json:"conference,omitempty"`
	AgentID    string    `json:"agent_id,omitempty"`
	Direction  string    `json:"direction"`
	Leg        string    `json:"leg"`
	AnsweredBy string    `json:"answered_by,omitempty"`
	Duration   int       `json:"duration,omitempty"`
	OccurredAt time.Time `json:"occurred_at"`
}

func (h *HandlerSet) callEvents(ctx *fiber.Ctx) error {
	state, err := callsvc.DecodePagingState(ctx.Query("page_token"))
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid page token")
	}

	sid := ctx.Params("sid")
	result, err := h.calls.ListEvents(ctx.UserContext(), sid, ctx.QueryInt("limit", 50), state)
	if err != nil {
		return translateError(err)
	}

	events := make([]callEventResponse, 0, len(result.Events))
	for _, ev := range result.Events {
		events = append(events, callEventResponse{
			EventID:    ev.EventID,
			Event:      string(ev.Event),
			State:      string(ev.State),
			Conference: ev.Conference,
			AgentID:    ev.AgentID,
			Direction:  string(ev.Direction),
			Leg:        string(ev.Leg),
			AnsweredBy: string(ev.AnsweredBy),
			Duration:   ev.Duration,
			OccurredAt: ev.OccurredAt,
		})
	}

	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"call_sid":        sid,
		"events":          events,
		"next_page_token": callsvc.EncodePagingState(result.PagingState),
	})
}

type voicemailRequest struct {
	To        string `json:"to"`
	Voicemail string `json:"voicemail"`
}

func (h *HandlerSet) sendVoicemail(ctx *fiber.Ctx) error {
	var req voicemailRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	sid, err := h.dialer.SendVoicemail(ctx.UserContext(), req.To, req.Voicemail)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"message":  "Voicemail call initiated",
		"call_sid": sid,
	})
}
