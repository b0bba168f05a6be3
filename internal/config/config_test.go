package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":8787", cfg.Addr)
	assert.Equal(t, "memory", cfg.TaskStore)
	assert.Equal(t, 2*time.Second, cfg.TypingTTL)
	assert.Equal(t, 3, cfg.ApprovalThreshold)
	assert.Equal(t, 2*time.Minute, cfg.TaskDedupeWindow)
	assert.Equal(t, time.Hour, cfg.ReminderInterval)
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("API_ADDR", ":9999")
	t.Setenv("TYPING_TTL", "500ms")
	t.Setenv("APPROVAL_THRESHOLD", "5")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Addr)
	assert.Equal(t, 500*time.Millisecond, cfg.TypingTTL)
	assert.Equal(t, 5, cfg.ApprovalThreshold)
}

func TestLoadReadsDotenvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("TASK_STORE=mongo\nMONGO_DB=designdesk_test\n"), 0o600))
	t.Cleanup(func() {
		os.Unsetenv("TASK_STORE")
		os.Unsetenv("MONGO_DB")
	})

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "mongo", cfg.TaskStore)
	assert.Equal(t, "designdesk_test", cfg.MongoDB)
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	t.Setenv("TYPING_TTL", "soon")

	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}
