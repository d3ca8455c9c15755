package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/dialer"
	"github.com/acme/softdialer/internal/twiml"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

const xmlContentType = "text/xml; charset=utf-8"

// Webhooks always answer with a TwiML document, even on bad input, so the
// provider never plays its own application error.
func (h *HandlerSet) respondTwiML(ctx *fiber.Ctx, in twiml.Instruction, err error) error {
	if err != nil {
		h.logger.WithContext(ctx.UserContext()).Warn("webhook rejected",
			zap.String("path", ctx.Path()),
			zap.Error(err),
		)
		in = twiml.SayThenHangup(twiml.FallbackMessage)
	}
	ctx.Set(fiber.HeaderContentType, xmlContentType)
	return ctx.Status(http.StatusOK).Send(twiml.RenderOrFallback(in))
}

func (h *HandlerSet) voiceWebhook(ctx *fiber.Ctx) error {
	in, err := h.dialer.HandleVoice(ctx.UserContext(), dialer.VoiceRequest{
		To:      ctx.FormValue("To"),
		CallSID: ctx.FormValue("CallSid"),
		From:    ctx.FormValue("From"),
	})
	return h.respondTwiML(ctx, in, err)
}

func (h *HandlerSet) inboundWebhook(ctx *fiber.Ctx) error {
	in, err := h.dialer.HandleInbound(ctx.UserContext(), dialer.InboundCall{
		CallSID: ctx.FormValue("CallSid"),
		From:    ctx.FormValue("From"),
		To:      ctx.FormValue("To"),
	})
	return h.respondTwiML(ctx, in, err)
}

func (h *HandlerSet) joinWebhook(ctx *fiber.Ctx) error {
	in, err := h.dialer.JoinInstruction(ctx.FormValue("Room"))
	return h.respondTwiML(ctx, in, err)
}

func (h *HandlerSet) amdWebhook(ctx *fiber.Ctx) error {
	in := h.dialer.HandleAMD(ctx.UserContext(), dialer.AMDCallback{
		AnsweredBy:   ctx.FormValue("AnsweredBy"),
		Conference:   ctx.FormValue("Room"),
		CallSID:      ctx.FormValue("CallSid"),
		VoicemailURL: ctx.FormValue("vm_audio_url"),
	})
	return h.respondTwiML(ctx, in, nil)
}

func (h *HandlerSet) statusWebhook(ctx *fiber.Ctx) error {
	sid := ctx.FormValue("CallSid")
	if sid == "" {
		return translateError(fmt.Errorf("status callback: CallSid: %w", apperrors.ErrMissingParameter))
	}

	duration, _ := strconv.Atoi(ctx.FormValue("CallDuration"))
	h.dialer.HandleStatus(ctx.UserContext(), dialer.StatusUpdate{
		CallSID:    sid,
		CallStatus: ctx.FormValue("CallStatus"),
		Duration:   duration,
	})
	return ctx.SendStatus(http.StatusNoContent)
}
