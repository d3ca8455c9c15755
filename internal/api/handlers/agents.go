package handlers

import (
	"crypto/subtle"
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	callsvc "github.com/acme/softdialer/internal/service/call"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

const (
	privateKeyHeader = "X-Private-Key"
	defaultIdentity  = "web_user"
)

func (h *HandlerSet) listAgents(ctx *fiber.Ctx) error {
	agents, err := h.calls.ListAgents(ctx.UserContext())
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"agents": agents})
}

type registerAgentRequest struct {
	AgentID        string `json:"agent_id"`
	Identity       string `json:"identity"`
	Name           string `json:"name"`
	PhoneNumber    string `json:"phone_number"`
	Responsibility string `json:"responsibility"`
}

func (h *HandlerSet) registerAgent(ctx *fiber.Ctx) error {
	var req registerAgentRequest
	if err := ctx.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, "invalid request body")
	}

	agent, err := h.calls.RegisterAgent(ctx.UserContext(), callsvc.RegisterAgentInput{
		AgentID:        req.AgentID,
		Identity:       req.Identity,
		Name:           req.Name,
		PhoneNumber:    req.PhoneNumber,
		Responsibility: req.Responsibility,
	})
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusCreated).JSON(fiber.Map{
		"registered": agent.ID,
		"identity":   agent.Identity,
		"status":     agent.Status,
	})
}

func (h *HandlerSet) privateAgentStatus(ctx *fiber.Ctx) error {
	if !h.authorized(ctx.Get(privateKeyHeader)) {
		return translateError(apperrors.ErrForbidden)
	}

	id := ctx.Params("id")
	status, err := h.dialer.AgentStatus(id)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{"agent_id": id, "status": status})
}

func (h *HandlerSet) authorized(key string) bool {
	if h.privateKey == "" || key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(key), []byte(h.privateKey)) == 1
}

// token issues a softphone token. Registered agents get their softphone
// identity; anything else is used verbatim.
func (h *HandlerSet) token(ctx *fiber.Ctx) error {
	if h.tokens == nil {
		return fiber.NewError(http.StatusServiceUnavailable, "token issuing is not configured")
	}

	identity := ctx.Query("agent_id", defaultIdentity)
	agent, err := h.dialer.Agent(identity)
	switch {
	case err == nil:
		identity = agent.Identity
	case !errors.Is(err, apperrors.ErrUnknownAgent):
		return translateError(err)
	}

	token, expiresAt, err := h.tokens.Issue(identity)
	if err != nil {
		return translateError(err)
	}
	return ctx.Status(http.StatusOK).JSON(fiber.Map{
		"token":      token,
		"identity":   identity,
		"expires_at": expiresAt,
	})
}
