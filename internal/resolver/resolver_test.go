package resolver

import (
	"context"
	"net/http"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"timedsend/internal/driver"
	"timedsend/internal/driver/drivertest"
)

func newResolver(t *testing.T) (*Resolver, *drivertest.Driver) {
	t.Helper()
	fake := drivertest.New()
	t.Cleanup(fake.Close)
	fake.SetGroups(
		drivertest.Group{ID: "123@g.us", Name: "Team"},
		drivertest.Group{ID: "456@g.us", Name: "team"},
		drivertest.Group{ID: "789@g.us", Name: "Family"},
	)
	return New(driver.New(driver.Config{URL: fake.URL}), "@", zerolog.Nop()), fake
}

func TestResolve_AddressPassesThrough(t *testing.T) {
	r, fake := newResolver(t)

	for _, contact := range []string{"123@g.us", "Team@somewhere", "31612345678@s.whatsapp.net"} {
		got := r.Resolve(context.Background(), contact)
		assert.Equal(t, Result{Address: contact, Outcome: Passthrough}, got)
	}
	assert.Zero(t, fake.GroupsCalls())
}

func TestResolve_CaseInsensitiveFirstMatch(t *testing.T) {
	r, _ := newResolver(t)

	got := r.Resolve(context.Background(), "TEAM")
	assert.Equal(t, Resolved, got.Outcome)
	assert.Equal(t, "123@g.us", got.Address)

	got = r.Resolve(context.Background(), "family")
	assert.Equal(t, "789@g.us", got.Address)
}

func TestResolve_NoMatchReturnsName(t *testing.T) {
	r, _ := newResolver(t)

	got := r.Resolve(context.Background(), "Teams")
	assert.Equal(t, Result{Address: "Teams", Outcome: NotFound}, got)
}

func TestResolve_LookupFailureFallsBack(t *testing.T) {
	r, fake := newResolver(t)
	fake.SetGroupsStatus(http.StatusInternalServerError)

	got := r.Resolve(context.Background(), "Team")
	assert.Equal(t, LookupFailed, got.Outcome)
	assert.Equal(t, "Team", got.Address)
	assert.Error(t, got.Err)
}

func TestResolve_NoCaching(t *testing.T) {
	r, fake := newResolver(t)

	r.Resolve(context.Background(), "Team")
	r.Resolve(context.Background(), "Team")
	assert.Equal(t, 2, fake.GroupsCalls())
}
