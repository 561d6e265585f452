package handlers

import (
	"errors"
	"log/slog"

	"github.com/danielgtaylor/huma/v2"

	"github.com/jmylchreest/revsync-api/internal/platform"
	"github.com/jmylchreest/revsync-api/internal/service"
)

// serviceError maps service sentinel errors onto HTTP errors. Anything
// unrecognized is logged and returned as a 500 naming the failed action.
func serviceError(err error, action string) error {
	switch {
	case errors.Is(err, service.ErrAppNotFound):
		return huma.Error404NotFound("app not found")
	case errors.Is(err, service.ErrSessionNotFound):
		return huma.Error404NotFound("no sync session found for app")
	case errors.Is(err, service.ErrUnsupportedAdapter),
		errors.Is(err, service.ErrUnknownMetric):
		return huma.Error400BadRequest(err.Error())
	case platform.IsCredentialError(err):
		return huma.Error422UnprocessableEntity(err.Error())
	case errors.Is(err, service.ErrShuttingDown):
		return huma.Error503ServiceUnavailable("server is shutting down, retry shortly")
	case errors.Is(err, service.ErrNoEncryptor):
		return huma.Error503ServiceUnavailable(err.Error())
	}

	slog.Error("request failed", "action", action, "error", err)
	return huma.Error500InternalServerError("failed to " + action + ": " + err.Error())
}
