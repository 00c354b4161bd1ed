package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/storefront-dev/storefront/shared/api"
	mw "github.com/storefront-dev/storefront/shared/middleware"
	"github.com/storefront-dev/storefront/shared/utils"
)

func (h *Handler) UserSessions(w http.ResponseWriter, r *http.Request) {
	userId, err := parseIdParam(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	tokens, err := h.admin.UserSessions(r.Context(), userId)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	now := time.Now()
	resp := api.SessionsResponse{Sessions: make([]api.SessionResponse, 0, len(tokens))}
	for _, t := range tokens {
		resp.Sessions = append(resp.Sessions, api.SessionResponse{
			Jti:       t.Jti,
			UserId:    t.UserId,
			IssuedAt:  t.IssuedAt,
			ExpiresAt: t.ExpiresAt,
			Revoked:   t.Revoked,
			Active:    t.Usable(now),
		})
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	userId, err := parseIdParam(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	n, err := h.admin.RevokeUserSessions(r.Context(), *mw.GetUserFromContext(r), userId)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.RevokeResponse{Success: true, Revoked: n})
}

func (h *Handler) RevokeSession(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.RevokeSession(r.Context(), *mw.GetUserFromContext(r), chi.URLParam(r, "jti")); err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.RevokeResponse{Success: true, Revoked: 1})
}

func (h *Handler) SetRole(w http.ResponseWriter, r *http.Request) {
	limitBody(w, r)
	userId, err := parseIdParam(r, "userId")
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	var body api.RoleRequest
	if err := utils.DecodeValidate(r.Body, &body); err != nil {
		h.writeError(w, r, err)
		return
	}
	if err := h.admin.SetRole(r.Context(), *mw.GetUserFromContext(r), userId, body.Role); err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Role updated"})
}

func (h *Handler) IPLogs(w http.ResponseWriter, r *http.Request) {
	logs, err := h.admin.IPLogs(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	resp := api.IPLogsResponse{IPs: make([]api.IPLogResponse, 0, len(logs))}
	for _, l := range logs {
		resp.IPs = append(resp.IPs, api.IPLogResponse{
			IP:               l.IP,
			UserId:           l.UserId,
			RecoveryAttempts: l.RecoveryAttempts,
			Blocked:          l.Blocked,
			UserAgent:        l.UserAgent,
		})
	}
	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *Handler) BlockIP(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.BlockIP(r.Context(), *mw.GetUserFromContext(r), chi.URLParam(r, "ip")); err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Address blocked"})
}

func (h *Handler) UnblockIP(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.UnblockIP(r.Context(), *mw.GetUserFromContext(r), chi.URLParam(r, "ip")); err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Address unblocked"})
}

func (h *Handler) ResetIP(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ResetIP(r.Context(), *mw.GetUserFromContext(r), chi.URLParam(r, "ip")); err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "Recovery attempts restored"})
}

func (h *Handler) CollectSessions(w http.ResponseWriter, r *http.Request) {
	n, err := h.admin.CollectSessions(r.Context())
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, api.GCResponse{Success: true, Deleted: n})
}

// StaffPing is a minimal staff-only endpoint.
func (h *Handler) StaffPing(w http.ResponseWriter, r *http.Request) {
	user := mw.GetUserFromContext(r)
	utils.WriteJSON(w, http.StatusOK, api.MessageResponse{Success: true, Message: "pong, " + user.Role})
}
