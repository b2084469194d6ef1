package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timedsend/internal/config"
	"timedsend/internal/domain"
	"timedsend/internal/driver/drivertest"
)

func TestBuild_WiresStoreAndDriver(t *testing.T) {
	for _, drv := range []string{"json", "sqlite"} {
		t.Run(drv, func(t *testing.T) {
			fake := drivertest.New()
			defer fake.Close()

			cfg := config.Default()
			cfg.Store.Driver = drv
			cfg.Store.Path = filepath.Join(t.TempDir(), "schedules."+drv)
			cfg.Driver.URL = fake.URL

			a, err := build(cfg, zerolog.Nop())
			require.NoError(t, err)
			defer a.Close()

			ctx := context.Background()
			_, err = a.Repo.Add(ctx, domain.NewMessage("+1555", "hi", "14:00", "", time.Now()))
			require.NoError(t, err)

			now := time.Date(2026, 3, 10, 14, 1, 0, 0, time.Local)
			report := a.Dispatcher().RunPass(ctx, now)
			assert.Equal(t, 1, report.Sent)
			assert.Len(t, fake.Messages(), 1)
		})
	}
}

func TestBuild_UnknownStoreDriver(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Driver = "redis"
	_, err := build(cfg, zerolog.Nop())
	assert.Error(t, err)
}
