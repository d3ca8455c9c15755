package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	apperrors "github.com/acme/softdialer/pkg/errors"
)

type recordingTranscript struct {
	RecordingSID string `json:"recording_sid"`
	URL          string `json:"url"`
	Transcript   string `json:"transcript"`
}

func (h *HandlerSet) callTranscript(ctx *fiber.Ctx) error {
	sid := ctx.Params("sid")
	transcripts, err := h.transcripts.ForCall(ctx.UserContext(), sid)
	if errors.Is(err, apperrors.ErrNotFound) {
		return fiber.NewError(http.StatusNotFound, "No recordings found")
	}
	if err != nil {
		return translateError(err)
	}

	recordings := make([]recordingTranscript, 0, len(transcripts))
	for _, t := range transcripts {
		recordings = append(recordings, recordingTranscript{RecordingSID: t.RecordingID, URL: t.URL, Transcript: t.Text})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"call_sid": sid, "recordings": recordings})
}

type ratingRequest struct {
	Transcript string `json:"transcript"`
}

// rate always answers with a rating field; null means no usable score.
func (h *HandlerSet) rate(ctx *fiber.Ctx) error {
	var req ratingRequest
	if err := ctx.BodyParser(&req); err != nil {
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"rating": nil})
	}

	score, err := h.transcripts.Rate(ctx.UserContext(), req.Transcript)
	switch {
	case errors.Is(err, apperrors.ErrMissingParameter):
		return ctx.Status(http.StatusBadRequest).JSON(fiber.Map{"rating": nil})
	case err != nil:
		h.logger.WithContext(ctx.UserContext()).Warn("rating failed", zap.Error(err))
		return ctx.Status(http.StatusBadGateway).JSON(fiber.Map{"rating": nil})
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"rating": score})
}
