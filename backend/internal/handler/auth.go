package handler

import (
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/storefront-dev/storefront/shared/api"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	mw "github.com/storefront-dev/storefront/shared/middleware"
	"github.com/storefront-dev/storefront/shared/utils"
)

// decode fills body from a JSON request, or from form fields via fromForm
// when the client posted an HTML form.
func decode(r *http.Request, body any, fromForm func(form url.Values)) error {
	if utils.IsForm(r) {
		if err := parseForm(r); err != nil {
			return err
		}
		fromForm(r.PostForm)
		return utils.Validate(body)
	}
	return utils.DecodeValidate(r.Body, body)
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	var body api.RegisterRequest
	err := decode(r, &body, func(f url.Values) {
		body.Username = f.Get("username")
		body.Email = f.Get("email")
		body.Password = f.Get("password")
		body.ConfirmPassword = f.Get("confirm_password")
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ip, err := mw.GetIP(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	_, err = h.auth.Register(r.Context(), domain.Registration{
		Username:        body.Username,
		Email:           body.Email,
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		IP:              ip,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{
		Success: true,
		Message: "Registration successful. Check your email to confirm your account",
	})
}

func (h *Handler) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	status, err := h.auth.ConfirmEmail(r.Context(), token)
	if err != nil {
		if errors.Is(err, internal_errors.ErrInvalidToken) {
			if mail, ok := h.auth.ConfirmationResendHint(r.Context(), token); ok {
				body, code := utils.ErrorResponse(err)
				body.Email = mail
				body.CanResend = true
				utils.WriteJSON(w, code, body)
				return
			}
		}
		h.writeError(w, r, err)
		return
	}

	resp := api.ConfirmEmailResponse{Success: true, Message: "Email confirmed. You can sign in now"}
	if status == domain.AlreadyConfirmed {
		resp.Message = "Email is already confirmed"
		resp.AlreadyConfirmed = true
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	var body api.EmailRequest
	if err := decode(r, &body, func(f url.Values) { body.Email = f.Get("email") }); err != nil {
		h.writeError(w, r, err)
		return
	}

	sent, err := h.auth.ResendConfirmation(r.Context(), body.Email)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	msg := "Confirmation email sent"
	if !sent {
		msg = "Email is already confirmed"
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: msg})
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	var body api.LoginRequest
	err := decode(r, &body, func(f url.Values) {
		body.Username = f.Get("username")
		body.Password = f.Get("password")
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ip, err := mw.GetIP(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	token, err := h.auth.Login(r.Context(), domain.Credentials{
		Login:     body.Username,
		Password:  body.Password,
		IP:        ip,
		UserAgent: r.UserAgent(),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	http.SetCookie(w, mw.AccessCookie(token, int(h.cfg.JwtTTL.Seconds()), h.cfg.SecureCookies))
	utils.WriteJSON(w, http.StatusOK, api.LoginResponse{Success: true, Message: "Logged in", AccessToken: token})
}

// Me returns the account behind the current session.
func (h *Handler) Me(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUserFromContext(r)
	if user == nil {
		h.writeError(w, r, fmt.Errorf("me: no session in context"))
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.UserResponse{
		Id:       user.Id,
		Username: user.Username,
		Email:    user.Email,
		Role:     user.Role,
	})
}

// Logout revokes the presented token, clears the cookie and sends the client
// to the login page. It succeeds even without a valid session.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), mw.TokenFromRequest(r))
	http.SetCookie(w, mw.ClearAccessCookie(h.cfg.SecureCookies))
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (h *Handler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	var body api.EmailRequest
	if err := decode(r, &body, func(f url.Values) { body.Email = f.Get("email") }); err != nil {
		h.writeError(w, r, err)
		return
	}
	ip, err := mw.GetIP(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	result, err := h.auth.RequestPasswordReset(r.Context(), body.Email, ip)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeResetResult(w, result)
}

func writeResetResult(w http.ResponseWriter, result domain.ResetRequestResult) {
	remaining := result.RemainingAttempts
	fail := func(status int, code, msg string, withRemaining bool) {
		body := api.ErrorResponse{Errors: []string{msg}, Code: code}
		if withRemaining {
			body.RemainingAttempts = &remaining
		}
		utils.WriteJSON(w, status, body)
	}

	switch result.Outcome {
	case domain.ResetLinkSent:
		utils.WriteJSON(w, http.StatusOK, api.ResetRequestResponse{
			Success:           true,
			Message:           "Password reset link sent. Check your email",
			Status:            result.Outcome.String(),
			RemainingAttempts: remaining,
		})
	case domain.ResetInvalidEmail:
		fail(http.StatusBadRequest, internal_errors.CodeInvalidEmail,
			fmt.Sprintf("Invalid email address. %d attempts left", remaining), true)
	case domain.ResetUnknownEmail:
		fail(http.StatusBadRequest, internal_errors.CodeNotFound,
			fmt.Sprintf("No account with this email. %d attempts left", remaining), true)
	case domain.ResetUnconfirmed:
		fail(http.StatusUnauthorized, internal_errors.CodeEmailUnconfirmed,
			"Please confirm your email before resetting your password", false)
	case domain.ResetAttemptsExhausted:
		fail(http.StatusTooManyRequests, internal_errors.CodeAttemptsExhausted,
			"Too many failed attempts. Password reset is no longer available from this address", true)
	case domain.ResetDeliveryFailed:
		fail(http.StatusServiceUnavailable, internal_errors.CodeDelivery,
			"Failed to send password reset email, try again later", false)
	default:
		utils.WriteErrorAndStatusCode(w, fmt.Errorf("unknown reset outcome %d", result.Outcome))
	}
}

// ResetTokenInfo lets a client check a reset link before rendering its form.
func (h *Handler) ResetTokenInfo(w http.ResponseWriter, r *http.Request) {
	mail, err := h.auth.CheckPasswordResetToken(r.Context(), r.URL.Query().Get("token"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.ResetTokenResponse{Valid: true, Email: mail})
}

// CompletePasswordReset answers JSON clients with JSON and form posts with a
// redirect to the login page.
func (h *Handler) CompletePasswordReset(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	isForm := utils.IsForm(r)
	var body api.CompleteResetRequest
	err := decode(r, &body, func(f url.Values) {
		body.Password = f.Get("password")
		body.ConfirmPassword = f.Get("confirm_password")
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	ip, err := mw.GetIP(r)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	err = h.auth.CompletePasswordReset(r.Context(), domain.PasswordReset{
		Token:           r.URL.Query().Get("token"),
		Password:        body.Password,
		ConfirmPassword: body.ConfirmPassword,
		IP:              ip,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	if isForm {
		http.Redirect(w, r, "/login", http.StatusSeeOther)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Password changed. You can sign in now"})
}
