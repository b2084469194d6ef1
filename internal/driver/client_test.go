package driver

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timedsend/internal/driver/drivertest"
)

func TestClient_StatusAndReady(t *testing.T) {
	fake := drivertest.New()
	defer fake.Close()
	c := New(Config{URL: fake.URL})
	ctx := context.Background()

	require.NoError(t, c.Ping(ctx))
	ready, err := c.Ready(ctx)
	require.NoError(t, err)
	assert.True(t, ready)

	fake.SetReady(false)
	ready, err = c.Ready(ctx)
	require.NoError(t, err)
	assert.False(t, ready)
	assert.NoError(t, c.Ping(ctx), "ping only checks the status code")

	fake.QueueStatus(http.StatusServiceUnavailable)
	err = c.Ping(ctx)
	var se *StatusError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, http.StatusServiceUnavailable, se.Code)
}

func TestClient_Groups(t *testing.T) {
	fake := drivertest.New()
	defer fake.Close()
	fake.SetGroups(drivertest.Group{ID: "123@g.us", Name: "Team"})

	groups, err := New(Config{URL: fake.URL}).Groups(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []Group{{ID: "123@g.us", Name: "Team"}}, groups)
}

func TestClient_Send(t *testing.T) {
	fake := drivertest.New()
	defer fake.Close()
	c := New(Config{URL: fake.URL + "/", SendRatePerSec: 100})
	ctx := context.Background()

	require.NoError(t, c.SendMessage(ctx, "+1555", "hi"))
	method, err := c.SendPoll(ctx, "123@g.us", "Lunch?", []string{"Yes", "No"})
	require.NoError(t, err)
	assert.Equal(t, "native", method)

	assert.Equal(t, []drivertest.Message{{Contact: "+1555", Message: "hi"}}, fake.Messages())
	require.Len(t, fake.Polls(), 1)
	assert.Equal(t, []string{"Yes", "No"}, fake.Polls()[0].Options)

	fake.SetSendStatus(http.StatusInternalServerError)
	assert.Error(t, c.SendMessage(ctx, "+1555", "hi"))
	_, err = c.SendPoll(ctx, "123@g.us", "Lunch?", []string{"Yes", "No"})
	assert.Error(t, err)
}

func TestClient_TransportFailure(t *testing.T) {
	fake := drivertest.New()
	url := fake.URL
	fake.Close()

	c := New(Config{URL: url, StatusTimeout: 200 * time.Millisecond})
	assert.Error(t, c.Ping(context.Background()))
	_, err := c.Ready(context.Background())
	assert.Error(t, err)
}
