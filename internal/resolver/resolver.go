package resolver

import (
	"context"
	"strings"

	"github.com/rs/zerolog"

	"timedsend/internal/driver"
)

type Outcome string

const (
	// Passthrough: the contact already is a protocol address.
	Passthrough  Outcome = "passthrough"
	Resolved     Outcome = "resolved"
	NotFound     Outcome = "not_found"
	LookupFailed Outcome = "lookup_failed"
)

// Result always carries a usable Address: the resolved address, or the
// original contact when nothing was resolved. Err is set for LookupFailed.
type Result struct {
	Address string
	Outcome Outcome
	Err     error
}

type Directory interface {
	Groups(ctx context.Context) ([]driver.Group, error)
}

// Resolver maps group display names to protocol addresses. It does not
// cache: every name lookup fetches the directory again.
type Resolver struct {
	dir       Directory
	separator string
	log       zerolog.Logger
}

func New(dir Directory, separator string, log zerolog.Logger) *Resolver {
	if separator == "" {
		separator = "@"
	}
	return &Resolver{dir: dir, separator: separator, log: log.With().Str("component", "resolver").Logger()}
}

func (r *Resolver) Resolve(ctx context.Context, contact string) Result {
	if strings.Contains(contact, r.separator) {
		return Result{Address: contact, Outcome: Passthrough}
	}

	groups, err := r.dir.Groups(ctx)
	if err != nil {
		r.log.Warn().Err(err).Str("contact", contact).Msg("group lookup failed; using contact as-is")
		return Result{Address: contact, Outcome: LookupFailed, Err: err}
	}
	for _, g := range groups {
		if strings.EqualFold(g.Name, contact) {
			r.log.Info().Str("contact", contact).Str("address", g.ID).Msg("resolved group name")
			return Result{Address: g.ID, Outcome: Resolved}
		}
	}
	r.log.Warn().Str("contact", contact).Msg("group name not found; using contact as-is")
	return Result{Address: contact, Outcome: NotFound}
}
