package email

import (
	"context"
	"net"
	"net/mail"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/storefront-dev/storefront/shared/domain"
	"github.com/storefront-dev/storefront/shared/errors"
)

const maxEmailLength = 254

// Resolver is the part of *net.Resolver used for deliverability checks.
type Resolver interface {
	LookupMX(ctx context.Context, name string) ([]*net.MX, error)
	LookupHost(ctx context.Context, host string) ([]string, error)
}

// Normalizer turns user input into the canonical stored form of an email.
type Normalizer struct {
	validate            *validator.Validate
	checkDeliverability bool
	resolver            Resolver
}

func NewNormalizer(checkDeliverability bool) *Normalizer {
	return &Normalizer{
		validate:            validator.New(),
		checkDeliverability: checkDeliverability,
		resolver:            net.DefaultResolver,
	}
}

// WithResolver replaces the DNS resolver. Used by tests.
func (n *Normalizer) WithResolver(r Resolver) *Normalizer {
	n.resolver = r
	return n
}

// Normalize trims and lowercases raw, checks its syntax and, when enabled,
// that its domain can receive mail (MX record, or an address as fallback).
func (n *Normalizer) Normalize(ctx context.Context, raw string) (domain.Email, error) {
	email := strings.ToLower(strings.TrimSpace(raw))
	if email == "" {
		return "", errors.InvalidEmail("Email is required")
	}
	if len(email) > maxEmailLength {
		return "", errors.InvalidEmail("Email is too long")
	}
	if err := n.validate.Var(email, "email"); err != nil {
		return "", errors.InvalidEmail("Email is invalid")
	}
	// Rejects display names and comments that the tag above lets through.
	addr, err := mail.ParseAddress(email)
	if err != nil || addr.Address != email {
		return "", errors.InvalidEmail("Email is invalid")
	}

	if n.checkDeliverability {
		host := email[strings.LastIndex(email, "@")+1:]
		if !n.deliverable(ctx, host) {
			return "", errors.InvalidEmail("Email domain does not accept mail")
		}
	}
	return email, nil
}

func (n *Normalizer) deliverable(ctx context.Context, host string) bool {
	if mxs, err := n.resolver.LookupMX(ctx, host); err == nil && len(mxs) > 0 {
		return true
	}
	addrs, err := n.resolver.LookupHost(ctx, host)
	return err == nil && len(addrs) > 0
}
