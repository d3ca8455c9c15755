package handlers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/acme/softdialer/internal/dialer"
	callsvc "github.com/acme/softdialer/internal/service/call"
	transcriptsvc "github.com/acme/softdialer/internal/service/transcript"
	"github.com/acme/softdialer/pkg/logger"
)

// TokenIssuer signs softphone access tokens.
type TokenIssuer interface {
	Issue(identity string) (string, time.Time, error)
}

// HealthCheck probes one dependency.
type HealthCheck func(ctx context.Context) error

// Dependencies are the components the HTTP layer drives.
type Dependencies struct {
	Orchestrator *dialer.Orchestrator
	Calls        *callsvc.Service
	Transcripts  *transcriptsvc.Service
	Tokens       TokenIssuer
	PrivateKey   string
	Health       map[string]HealthCheck
	Logger       *logger.Logger
}

// HandlerSet bundles all HTTP handlers.
type HandlerSet struct {
	dialer      *dialer.Orchestrator
	calls       *callsvc.Service
	transcripts *transcriptsvc.Service
	tokens      TokenIssuer
	privateKey  string
	health      map[string]HealthCheck
	logger      *logger.Logger
}

// NewHandlerSet creates a new handler bundle.
func NewHandlerSet(deps Dependencies) *HandlerSet {
	log := deps.Logger
	if log == nil {
		log = logger.NewNop()
	}
	return &HandlerSet{
		dialer:      deps.Orchestrator,
		calls:       deps.Calls,
		transcripts: deps.Transcripts,
		tokens:      deps.Tokens,
		privateKey:  deps.PrivateKey,
		health:      deps.Health,
		logger:      log,
	}
}

// Register wires all routes onto the fiber app.
func (h *HandlerSet) Register(app *fiber.App) {
	app.Get("/healthz", h.healthz)
	app.Get("/token", h.token)

	v1 := app.Group("/api/v1")

	calls := v1.Group("/calls")
	calls.Post("/", h.placeCall)
	calls.Get("/", h.listCalls)
	calls.Post("/records", h.saveRecord)
	calls.Get("/:sid/transcript", h.callTranscript)
	calls.Get("/:sid/events", h.callEvents)

	v1.Post("/notes", h.addNote)
	v1.Get("/agents", h.listAgents)
	v1.Post("/agents", h.registerAgent)
	v1.Post("/voicemail", h.sendVoicemail)
	v1.Post("/rating", h.rate)

	app.Get("/private/agents/:id/status", h.privateAgentStatus)

	hooks := app.Group("/webhooks")
	hooks.Post("/voice", h.voiceWebhook)
	hooks.Post("/inbound", h.inboundWebhook)
	hooks.Get("/join", h.joinWebhook)
	hooks.Post("/join", h.joinWebhook)
	hooks.Post("/amd", h.amdWebhook)
	hooks.Post("/status", h.statusWebhook)
}

// ErrorHandler provides centralized error responses.
func (h *HandlerSet) ErrorHandler(ctx *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := err.Error()

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		code = fiberErr.Code
		message = fiberErr.Message
	}

	if code >= fiber.StatusInternalServerError {
		h.logger.WithContext(ctx.UserContext()).Error("request failed",
			zap.String("method", ctx.Method()),
			zap.String("path", ctx.Path()),
			zap.Int("status", code),
			zap.Error(err),
		)
	}

	return ctx.Status(code).JSON(fiber.Map{"error": message})
}

func (h *HandlerSet) healthz(ctx *fiber.Ctx) error {
	healthCtx, cancel := context.WithTimeout(ctx.UserContext(), 2*time.Second)
	defer cancel()

	errs := make(map[string]string)
	for name, check := range h.health {
		if err := check(healthCtx); err != nil {
			errs[name] = err.Error()
		}
	}

	if len(errs) > 0 {
		return ctx.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"status": "degraded", "errors": errs})
	}
	return ctx.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
}
