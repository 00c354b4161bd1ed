package utils

import (
	"encoding/json"
	"errors"
	"io"
	"mime"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/storefront-dev/storefront/shared/api"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// WriteJSON writes v with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// ErrorResponse maps err to the client visible body and status.
// Untyped errors never leak their message.
func ErrorResponse(err error) (api.ErrorResponse, int) {
	var e *internal_errors.ErrorWithStatusCode
	if errors.As(err, &e) && e.StatusCode != 0 {
		return api.ErrorResponse{Errors: []string{e.Message}, Code: e.Code}, e.StatusCode
	}
	// default error is 500
	return api.ErrorResponse{Errors: []string{"Internal server error"}}, http.StatusInternalServerError
}

func WriteErrorAndStatusCode(w http.ResponseWriter, err error) {
	body, status := ErrorResponse(err)
	WriteJSON(w, status, body)
}

func DecodeValidate(r io.ReadCloser, body any) error {
	if err := json.NewDecoder(r).Decode(body); err != nil {
		return internal_errors.Validation("Body is invalid json")
	}
	return Validate(body)
}

// Validate runs struct tag validation on an already populated body.
func Validate(body any) error {
	if err := validate.Struct(body); err != nil {
		return internal_errors.Validation("Required fields missing")
	}
	return nil
}

// IsForm reports whether the request carries an HTML form body.
func IsForm(r *http.Request) bool {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil {
		return false
	}
	return mediaType == "application/x-www-form-urlencoded" || mediaType == "multipart/form-data"
}
