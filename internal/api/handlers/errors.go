package handlers

import (
	"errors"
	"net/http"

	"github.com/gofiber/fiber/v2"

	"github.com/acme/softdialer/internal/repository"
	"github.com/acme/softdialer/internal/telephony"
	apperrors "github.com/acme/softdialer/pkg/errors"
)

func translateError(err error) error {
	if err == nil {
		return nil
	}

	var providerErr *telephony.ProviderError
	switch {
	case errors.As(err, &providerErr):
		return fiber.NewError(http.StatusBadGateway, providerErr.Message)
	case errors.Is(err, apperrors.ErrMissingParameter), errors.Is(err, apperrors.ErrValidation):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, apperrors.ErrUnknownAgent):
		return fiber.NewError(http.StatusNotFound, "unknown agent")
	case errors.Is(err, repository.ErrNotFound):
		return fiber.NewError(http.StatusNotFound, "resource not found")
	case errors.Is(err, repository.ErrConflict):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, apperrors.ErrForbidden):
		return fiber.NewError(http.StatusForbidden, "forbidden")
	case errors.Is(err, apperrors.ErrUnavailable):
		return fiber.NewError(http.StatusServiceUnavailable, err.Error())
	default:
		return err
	}
}
