package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"timedsend/internal/domain"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "timedsend.json")
	body := `{"store":{"path":"` + filepath.Join(dir, "schedule.json") + `"},"log":{"level":"error"}}`
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	root := newRootCmd()
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func TestSchedulesAddListRemove(t *testing.T) {
	cfg := writeConfig(t)

	out, err := run(t, "--config", cfg, "schedules", "add-message", "--contact", "+1555", "--message", "hi", "--time", "14:00")
	require.NoError(t, err)
	id := regexp.MustCompile(`sch_[0-9a-f-]+`).FindString(out)
	require.NotEmpty(t, id)

	_, err = run(t, "--config", cfg, "schedules", "add-poll", "--contact", "Team", "--question", "Lunch?", "--options", "Yes, No", "--time", "09:00", "--recurring", "daily")
	require.NoError(t, err)

	out, err = run(t, "--config", cfg, "schedules", "list")
	require.NoError(t, err)
	assert.Contains(t, out, id)
	assert.Contains(t, out, "Lunch? [Yes No]")
	assert.Contains(t, out, "daily")

	out, err = run(t, "--config", cfg, "schedules", "list", "--json")
	require.NoError(t, err)
	var all []domain.Schedule
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	require.Len(t, all, 2)
	assert.Equal(t, domain.StatusPending, all[0].Status)

	out, err = run(t, "--config", cfg, "schedules", "remove", id)
	require.NoError(t, err)
	assert.Contains(t, out, "position 0")

	_, err = run(t, "--config", cfg, "schedules", "remove", id)
	assert.Error(t, err)
}

func TestSchedulesAddRejectsDuplicateOptions(t *testing.T) {
	cfg := writeConfig(t)
	_, err := run(t, "--config", cfg, "schedules", "add-poll", "--contact", "Team", "--question", "Lunch?", "--options", "Yes,Yes", "--time", "09:00")
	require.ErrorIs(t, err, domain.ErrInvalidSchedule)

	out, err := run(t, "--config", cfg, "schedules", "list", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `[]`, out)
}

func TestMissingExplicitConfigFails(t *testing.T) {
	_, err := run(t, "--config", filepath.Join(t.TempDir(), "absent.yaml"), "schedules", "list")
	assert.Error(t, err)
}
