package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/storefront-dev/storefront/backend/internal/service"
	"github.com/storefront-dev/storefront/shared/config"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"github.com/storefront-dev/storefront/shared/utils"
)

// maxBodyBytes caps request bodies. Every endpoint takes a handful of short fields.
const maxBodyBytes = 64 << 10

type HealthChecker interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	auth   service.AuthService
	admin  service.AdminService
	health HealthChecker
	cfg    *config.Public
	logger *slog.Logger
}

func New(auth service.AuthService, admin service.AdminService, health HealthChecker, cfg *config.Public, logger *slog.Logger) *Handler {
	return &Handler{auth: auth, admin: admin, health: health, cfg: cfg, logger: logger}
}

// writeError renders err for the client. Untyped errors are infrastructure
// failures: they are logged here and shown only as a generic 500.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	if !internal_errors.Is[*internal_errors.ErrorWithStatusCode](err) {
		h.logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	utils.WriteErrorAndStatusCode(w, err)
}

func limitBody(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
}

// parseForm reads a urlencoded or multipart body.
func parseForm(r *http.Request) error {
	err := r.ParseMultipartForm(maxBodyBytes)
	if errors.Is(err, http.ErrNotMultipart) {
		err = r.ParseForm()
	}
	if err != nil {
		return internal_errors.Validation("Body is invalid form")
	}
	return nil
}

func parseIdParam(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil || id <= 0 {
		return 0, internal_errors.Validation("Invalid " + name)
	}
	return id, nil
}
