package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/storefront-dev/storefront/shared/api"
	"github.com/storefront-dev/storefront/shared/config"
	"github.com/storefront-dev/storefront/shared/domain"
	internal_errors "github.com/storefront-dev/storefront/shared/errors"
	"github.com/storefront-dev/storefront/shared/logger"
	mw "github.com/storefront-dev/storefront/shared/middleware"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// --- Mock for AuthService ---

type MockAuthService struct {
	RegisterFunc                func(reg domain.Registration) (domain.UserId, error)
	ConfirmEmailFunc            func(token string) (domain.ConfirmationStatus, error)
	ConfirmationResendHintFunc  func(token string) (domain.Email, bool)
	ResendConfirmationFunc      func(rawEmail string) (bool, error)
	LoginFunc                   func(creds domain.Credentials) (string, error)
	LogoutFunc                  func(token string)
	AuthenticateFunc            func(token string) (domain.Session, error)
	RequestPasswordResetFunc    func(rawEmail string, ip domain.IP) (domain.ResetRequestResult, error)
	CheckPasswordResetTokenFunc func(token string) (domain.Email, error)
	CompletePasswordResetFunc   func(reset domain.PasswordReset) error
}

func (m *MockAuthService) Register(_ context.Context, reg domain.Registration) (domain.UserId, error) {
	if m.RegisterFunc != nil {
		return m.RegisterFunc(reg)
	}
	return 1, nil
}

func (m *MockAuthService) ConfirmEmail(_ context.Context, token string) (domain.ConfirmationStatus, error) {
	if m.ConfirmEmailFunc != nil {
		return m.ConfirmEmailFunc(token)
	}
	return domain.JustConfirmed, nil
}

func (m *MockAuthService) ConfirmationResendHint(_ context.Context, token string) (domain.Email, bool) {
	if m.ConfirmationResendHintFunc != nil {
		return m.ConfirmationResendHintFunc(token)
	}
	return "", false
}

func (m *MockAuthService) ResendConfirmation(_ context.Context, rawEmail string) (bool, error) {
	if m.ResendConfirmationFunc != nil {
		return m.ResendConfirmationFunc(rawEmail)
	}
	return true, nil
}

func (m *MockAuthService) Login(_ context.Context, creds domain.Credentials) (string, error) {
	if m.LoginFunc != nil {
		return m.LoginFunc(creds)
	}
	return "token", nil
}

func (m *MockAuthService) Logout(_ context.Context, token string) {
	if m.LogoutFunc != nil {
		m.LogoutFunc(token)
	}
}

func (m *MockAuthService) Authenticate(_ context.Context, token string) (domain.Session, error) {
	if m.AuthenticateFunc != nil {
		return m.AuthenticateFunc(token)
	}
	return domain.Session{}, internal_errors.InvalidToken("Invalid token")
}

func (m *MockAuthService) RequestPasswordReset(_ context.Context, rawEmail string, ip domain.IP) (domain.ResetRequestResult, error) {
	if m.RequestPasswordResetFunc != nil {
		return m.RequestPasswordResetFunc(rawEmail, ip)
	}
	return domain.ResetRequestResult{Outcome: domain.ResetLinkSent, RemainingAttempts: 3}, nil
}

func (m *MockAuthService) CheckPasswordResetToken(_ context.Context, token string) (domain.Email, error) {
	if m.CheckPasswordResetTokenFunc != nil {
		return m.CheckPasswordResetTokenFunc(token)
	}
	return "user@example.com", nil
}

func (m *MockAuthService) CompletePasswordReset(_ context.Context, reset domain.PasswordReset) error {
	if m.CompletePasswordResetFunc != nil {
		return m.CompletePasswordResetFunc(reset)
	}
	return nil
}

// --- Helpers ---

func newTestHandler(auth *MockAuthService, admin *MockAdminService) *Handler {
	cfg := &config.Public{JwtTTL: time.Hour, SecureCookies: true, MaxRecoveryAttempts: 3}
	if auth == nil {
		auth = &MockAuthService{}
	}
	if admin == nil {
		admin = &MockAdminService{}
	}
	return New(auth, admin, &MockHealthChecker{}, cfg, logger.Discard())
}

func jsonRequest(t *testing.T, method, target string, body any) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, target, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.RemoteAddr = "203.0.113.5:5000"
	return req
}

func formRequest(method, target string, form url.Values) *http.Request {
	req := httptest.NewRequest(method, target, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.RemoteAddr = "203.0.113.5:5000"
	return req
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) api.ErrorResponse {
	t.Helper()
	var body api.ErrorResponse
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
	return body
}

// --- Tests ---

func TestRegisterHandler(t *testing.T) {
	t.Run("JSON body", func(t *testing.T) {
		var got domain.Registration
		h := newTestHandler(&MockAuthService{RegisterFunc: func(reg domain.Registration) (domain.UserId, error) {
			got = reg
			return 5, nil
		}}, nil)

		rr := httptest.NewRecorder()
		h.Register(rr, jsonRequest(t, http.MethodPost, "/register", api.RegisterRequest{
			Username: "alice", Email: "alice@example.com", Password: "pw", ConfirmPassword: "pw",
		}))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"success":true`)
		assert.Equal(t, domain.Registration{Username: "alice", Email: "alice@example.com", Password: "pw", ConfirmPassword: "pw", IP: "203.0.113.5"}, got)
	})

	t.Run("Form body", func(t *testing.T) {
		var got domain.Registration
		h := newTestHandler(&MockAuthService{RegisterFunc: func(reg domain.Registration) (domain.UserId, error) {
			got = reg
			return 5, nil
		}}, nil)

		rr := httptest.NewRecorder()
		h.Register(rr, formRequest(http.MethodPost, "/register", url.Values{
			"username": {"bob"}, "email": {"bob@example.com"}, "password": {"x"}, "confirm_password": {"x"},
		}))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Equal(t, "bob", got.Username)
		assert.Equal(t, "x", got.ConfirmPassword)
	})

	t.Run("Missing fields", func(t *testing.T) {
		h := newTestHandler(&MockAuthService{RegisterFunc: func(domain.Registration) (domain.UserId, error) {
			t.Fatal("service must not be called")
			return 0, nil
		}}, nil)
		rr := httptest.NewRecorder()
		h.Register(rr, jsonRequest(t, http.MethodPost, "/register", map[string]string{"username": "alice"}))
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, internal_errors.CodeValidation, decodeError(t, rr).Code)
	})

	t.Run("Invalid JSON", func(t *testing.T) {
		h := newTestHandler(nil, nil)
		req := httptest.NewRequest(http.MethodPost, "/register", strings.NewReader("{"))
		rr := httptest.NewRecorder()
		h.Register(rr, req)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})

	t.Run("Service errors keep their status", func(t *testing.T) {
		cases := []struct {
			err    error
			status int
		}{
			{internal_errors.Conflict("Email is already registered"), http.StatusConflict},
			{internal_errors.InvalidEmail("Invalid email address"), http.StatusBadRequest},
			{internal_errors.Delivery("Failed to send confirmation email, try again later", http.StatusBadRequest), http.StatusBadRequest},
			{errors.New("pq: connection refused"), http.StatusInternalServerError},
		}
		for _, tc := range cases {
			h := newTestHandler(&MockAuthService{RegisterFunc: func(domain.Registration) (domain.UserId, error) { return 0, tc.err }}, nil)
			rr := httptest.NewRecorder()
			h.Register(rr, jsonRequest(t, http.MethodPost, "/register", api.RegisterRequest{
				Username: "alice", Email: "a@example.com", Password: "p", ConfirmPassword: "p",
			}))
			assert.Equal(t, tc.status, rr.Code)
			assert.NotContains(t, rr.Body.String(), "pq:", "infrastructure details are hidden")
		}
	})
}

func TestConfirmEmailHandler(t *testing.T) {
	t.Run("Just confirmed", func(t *testing.T) {
		h := newTestHandler(&MockAuthService{ConfirmEmailFunc: func(token string) (domain.ConfirmationStatus, error) {
			assert.Equal(t, "tok", token)
			return domain.JustConfirmed, nil
		}}, nil)
		rr := httptest.NewRecorder()
		h.ConfirmEmail(rr, httptest.NewRequest(http.MethodGet, "/confirm-email?token=tok", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		var body api.ConfirmEmailResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.True(t, body.Success)
		assert.False(t, body.AlreadyConfirmed)
	})

	t.Run("Already confirmed", func(t *testing.T) {
		h := newTestHandler(&MockAuthService{ConfirmEmailFunc: func(string) (domain.ConfirmationStatus, error) {
			return domain.AlreadyConfirmed, nil
		}}, nil)
		rr := httptest.NewRecorder()
		h.ConfirmEmail(rr, httptest.NewRequest(http.MethodGet, "/confirm-email?token=tok", nil))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"already_confirmed":true`)
	})

	t.Run("Expired token offers resend", func(t *testing.T) {
		h := newTestHandler(&MockAuthService{
			ConfirmEmailFunc: func(string) (domain.ConfirmationStatus, error) {
				return 0, internal_errors.InvalidToken("Token expired")
			},
			ConfirmationResendHintFunc: func(string) (domain.Email, bool) { return "late@example.com", true },
		}, nil)
		rr := httptest.NewRecorder()
		h.ConfirmEmail(rr, httptest.NewRequest(http.MethodGet, "/confirm-email?token=old", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeError(t, rr)
		assert.Equal(t, internal_errors.CodeInvalidToken, body.Code)
		assert.Equal(t, "late@example.com", body.Email)
		assert.True(t, body.CanResend)
	})

	t.Run("Bad token without hint", func(t *testing.T) {
		h := newTestHandler(&MockAuthService{ConfirmEmailFunc: func(string) (domain.ConfirmationStatus, error) {
			return 0, internal_errors.InvalidToken("Invalid token")
		}}, nil)
		rr := httptest.NewRecorder()
		h.ConfirmEmail(rr, httptest.NewRequest(http.MethodGet, "/confirm-email", nil))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		body := decodeError(t, rr)
		assert.False(t, body.CanResend)
		assert.Empty(t, body.Email)
	})
}

func TestResendConfirmationHandler(t *testing.T) {
	h := newTestHandler(&MockAuthService{ResendConfirmationFunc: func(raw string) (bool, error) {
		return raw != "done@example.com", nil
	}}, nil)

	rr := httptest.NewRecorder()
	h.ResendConfirmation(rr, jsonRequest(t, http.MethodPost, "/resend-confirmation", api.EmailRequest{Email: "late@example.com"}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Confirmation email sent")

	rr = httptest.NewRecorder()
	h.ResendConfirmation(rr, jsonRequest(t, http.MethodPost, "/resend-confirmation", api.EmailRequest{Email: "done@example.com"}))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "already confirmed")
}

func TestLoginHandler(t *testing.T) {
	t.Run("Success sets cookie and returns token", func(t *testing.T) {
		var got domain.Credentials
		h := newTestHandler(&MockAuthService{LoginFunc: func(creds domain.Credentials) (string, error) {
			got = creds
			return "signed.jwt.token", nil
		}}, nil)

		req := jsonRequest(t, http.MethodPost, "/login", api.LoginRequest{Username: "alice", Password: "pw"})
		req.Header.Set("User-Agent", "test-agent")
		rr := httptest.NewRecorder()
		h.Login(rr, req)

		require.Equal(t, http.StatusOK, rr.Code)
		var body api.LoginResponse
		require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
		assert.Equal(t, "signed.jwt.token", body.AccessToken)
		assert.Equal(t, domain.Credentials{Login: "alice", Password: "pw", IP: "203.0.113.5", UserAgent: "test-agent"}, got)

		cookies := rr.Result().Cookies()
		require.Len(t, cookies, 1)
		assert.Equal(t, mw.AccessTokenCookie, cookies[0].Name)
		assert.Equal(t, "signed.jwt.token", cookies[0].Value)
		assert.Equal(t, 3600, cookies[0].MaxAge)
		assert.True(t, cookies[0].HttpOnly)
		assert.True(t, cookies[0].Secure)
	})

	t.Run("Failures set no cookie", func(t *testing.T) {
		for _, err := range []error{internal_errors.InvalidCredentials(), internal_errors.EmailUnconfirmed("Please confirm your email before signing in")} {
			h := newTestHandler(&MockAuthService{LoginFunc: func(domain.Credentials) (string, error) { return "", err }}, nil)
			rr := httptest.NewRecorder()
			h.Login(rr, formRequest(http.MethodPost, "/login", url.Values{"username": {"alice"}, "password": {"x"}}))

			assert.Equal(t, http.StatusUnauthorized, rr.Code)
			assert.Empty(t, rr.Result().Cookies())
		}
	})
}

func TestMeHandler(t *testing.T) {
	h := newTestHandler(nil, nil)
	req := httptest.NewRequest(http.MethodGet, "/auth", nil)
	req = req.WithContext(mw.WithSession(req.Context(), domain.Session{
		User: domain.User{Id: 3, Username: "alice", Email: "alice@example.com", Role: domain.RoleUser},
		Jti:  "j",
	}))
	rr := httptest.NewRecorder()
	h.Me(rr, req)

	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"id":3,"username":"alice","email":"alice@example.com","role":"user"}`, rr.Body.String())
}

func TestLogoutHandler(t *testing.T) {
	var revoked []string
	h := newTestHandler(&MockAuthService{LogoutFunc: func(token string) { revoked = append(revoked, token) }}, nil)

	req := httptest.NewRequest(http.MethodGet, "/logout", nil)
	req.AddCookie(&http.Cookie{Name: mw.AccessTokenCookie, Value: "live-token"})
	rr := httptest.NewRecorder()
	h.Logout(rr, req)

	assert.Equal(t, http.StatusSeeOther, rr.Code)
	assert.Equal(t, "/login", rr.Header().Get("Location"))
	assert.Equal(t, []string{"live-token"}, revoked)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Empty(t, cookies[0].Value)
	assert.True(t, cookies[0].MaxAge < 0)

	rr = httptest.NewRecorder()
	h.Logout(rr, httptest.NewRequest(http.MethodGet, "/logout", nil))
	assert.Equal(t, http.StatusSeeOther, rr.Code, "logout without a session still succeeds")
}

func TestRequestPasswordResetHandler(t *testing.T) {
	cases := []struct {
		name          string
		result        domain.ResetRequestResult
		status        int
		code          string
		withRemaining bool
	}{
		{"link sent", domain.ResetRequestResult{Outcome: domain.ResetLinkSent, RemainingAttempts: 3}, http.StatusOK, "", false},
		{"invalid email", domain.ResetRequestResult{Outcome: domain.ResetInvalidEmail, RemainingAttempts: 2}, http.StatusBadRequest, internal_errors.CodeInvalidEmail, true},
		{"unknown email", domain.ResetRequestResult{Outcome: domain.ResetUnknownEmail, RemainingAttempts: 1}, http.StatusBadRequest, internal_errors.CodeNotFound, true},
		{"unconfirmed", domain.ResetRequestResult{Outcome: domain.ResetUnconfirmed, RemainingAttempts: 3}, http.StatusUnauthorized, internal_errors.CodeEmailUnconfirmed, false},
		{"exhausted", domain.ResetRequestResult{Outcome: domain.ResetAttemptsExhausted}, http.StatusTooManyRequests, internal_errors.CodeAttemptsExhausted, true},
		{"delivery failed", domain.ResetRequestResult{Outcome: domain.ResetDeliveryFailed, RemainingAttempts: 3}, http.StatusServiceUnavailable, internal_errors.CodeDelivery, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newTestHandler(&MockAuthService{RequestPasswordResetFunc: func(raw string, ip domain.IP) (domain.ResetRequestResult, error) {
				assert.Equal(t, "who@example.com", raw)
				assert.Equal(t, "203.0.113.5", ip)
				return tc.result, nil
			}}, nil)

			rr := httptest.NewRecorder()
			h.RequestPasswordReset(rr, formRequest(http.MethodPost, "/reset-password", url.Values{"email": {"who@example.com"}}))
			assert.Equal(t, tc.status, rr.Code)

			if tc.status == http.StatusOK {
				var body api.ResetRequestResponse
				require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body))
				assert.Equal(t, "link_sent", body.Status)
				return
			}
			body := decodeError(t, rr)
			assert.Equal(t, tc.code, body.Code)
			if tc.withRemaining {
				require.NotNil(t, body.RemainingAttempts)
				assert.Equal(t, tc.result.RemainingAttempts, *body.RemainingAttempts)
			} else {
				assert.Nil(t, body.RemainingAttempts)
			}
		})
	}

	t.Run("Empty email still reaches the service", func(t *testing.T) {
		called := false
		h := newTestHandler(&MockAuthService{RequestPasswordResetFunc: func(raw string, _ domain.IP) (domain.ResetRequestResult, error) {
			called = true
			assert.Empty(t, raw)
			return domain.ResetRequestResult{Outcome: domain.ResetInvalidEmail, RemainingAttempts: 2}, nil
		}}, nil)
		rr := httptest.NewRecorder()
		h.RequestPasswordReset(rr, jsonRequest(t, http.MethodPost, "/reset-password", map[string]string{}))
		assert.True(t, called)
		assert.Equal(t, http.StatusBadRequest, rr.Code)
	})
}

func TestResetTokenInfoHandler(t *testing.T) {
	h := newTestHandler(&MockAuthService{CheckPasswordResetTokenFunc: func(token string) (domain.Email, error) {
		if token == "good" {
			return "alice@example.com", nil
		}
		return "", internal_errors.InvalidToken("Invalid token")
	}}, nil)

	rr := httptest.NewRecorder()
	h.ResetTokenInfo(rr, httptest.NewRequest(http.MethodGet, "/reset-password/token?token=good", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"valid":true,"email":"alice@example.com"}`, rr.Body.String())

	rr = httptest.NewRecorder()
	h.ResetTokenInfo(rr, httptest.NewRequest(http.MethodGet, "/reset-password/token?token=bad", nil))
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestCompletePasswordResetHandler(t *testing.T) {
	var got domain.PasswordReset
	auth := &MockAuthService{CompletePasswordResetFunc: func(reset domain.PasswordReset) error {
		got = reset
		return nil
	}}
	h := newTestHandler(auth, nil)

	t.Run("JSON client gets JSON", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.CompletePasswordReset(rr, jsonRequest(t, http.MethodPost, "/reset-password/token?token=tok",
			api.CompleteResetRequest{Password: "new", ConfirmPassword: "new"}))

		assert.Equal(t, http.StatusOK, rr.Code)
		assert.Contains(t, rr.Body.String(), `"success":true`)
		assert.Equal(t, domain.PasswordReset{Token: "tok", Password: "new", ConfirmPassword: "new", IP: "203.0.113.5"}, got)
	})

	t.Run("Form client is redirected to login", func(t *testing.T) {
		rr := httptest.NewRecorder()
		h.CompletePasswordReset(rr, formRequest(http.MethodPost, "/reset-password/token?token=tok2",
			url.Values{"password": {"n2"}, "confirm_password": {"n2"}}))

		assert.Equal(t, http.StatusSeeOther, rr.Code)
		assert.Equal(t, "/login", rr.Header().Get("Location"))
		assert.Equal(t, "tok2", got.Token)
	})

	t.Run("Errors are JSON", func(t *testing.T) {
		auth.CompletePasswordResetFunc = func(domain.PasswordReset) error { return internal_errors.Validation("Passwords do not match") }
		rr := httptest.NewRecorder()
		h.CompletePasswordReset(rr, formRequest(http.MethodPost, "/reset-password/token?token=tok",
			url.Values{"password": {"a"}, "confirm_password": {"b"}}))

		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Equal(t, []string{"Passwords do not match"}, decodeError(t, rr).Errors)
	})
}
