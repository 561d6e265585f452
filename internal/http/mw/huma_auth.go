package mw

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// SecurityScheme is the name of the security scheme used in OpenAPI.
const SecurityScheme = "bearerAuth"

// HumaAuthConfig holds dependencies for the Huma auth middleware.
type HumaAuthConfig struct {
	// AdminToken is the operator bearer token. When empty every protected
	// operation is refused.
	AdminToken string
	Logger     *slog.Logger
}

// HumaAuth returns a Huma middleware that checks the operator bearer token
// on operations whose security lists SecurityScheme. Public operations pass
// through untouched.
func HumaAuth(api huma.API, cfg HumaAuthConfig) func(ctx huma.Context, next func(huma.Context)) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	want := []byte(cfg.AdminToken)

	return func(ctx huma.Context, next func(huma.Context)) {
		op := ctx.Operation()
		if op == nil || !operationRequiresAuth(op) {
			next(ctx)
			return
		}

		if len(want) == 0 {
			huma.WriteErr(api, ctx, http.StatusServiceUnavailable, "operator API is disabled: ADMIN_API_TOKEN is not set")
			return
		}

		authHeader := ctx.Header("Authorization")
		if authHeader == "" {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "missing authorization header")
			return
		}
		token, ok := strings.CutPrefix(authHeader, "Bearer ")
		if !ok {
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "authorization header must use the Bearer scheme")
			return
		}

		if subtle.ConstantTimeCompare([]byte(token), want) != 1 {
			logger.Debug("operator token rejected", "operation", op.OperationID)
			huma.WriteErr(api, ctx, http.StatusUnauthorized, "invalid token")
			return
		}

		next(ctx)
	}
}

// operationRequiresAuth checks if the operation has bearerAuth in its security requirements.
func operationRequiresAuth(op *huma.Operation) bool {
	for _, secReq := range op.Security {
		if _, ok := secReq[SecurityScheme]; ok {
			return true
		}
	}
	return false
}
