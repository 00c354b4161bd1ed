package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	registrationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_registrations_total",
			Help: "Registration attempts by outcome",
		},
		[]string{"outcome"},
	)

	confirmationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_email_confirmations_total",
			Help: "Email confirmation attempts by outcome",
		},
		[]string{"outcome"},
	)

	loginsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_logins_total",
			Help: "Login attempts by outcome",
		},
		[]string{"outcome"},
	)

	resetRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_password_reset_requests_total",
			Help: "Password reset link requests by outcome",
		},
		[]string{"outcome"},
	)

	passwordResetsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_password_resets_total",
			Help: "Completed password resets",
		},
	)

	revocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_session_revocations_total",
			Help: "Revoked sessions by reason",
		},
		[]string{"reason"},
	)

	gcDeletedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "auth_session_gc_deleted_total",
			Help: "Session registry rows removed by the garbage collector",
		},
	)
)

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)
