package common

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)

	assert.Equal(t, []string{"gemini-2.5-flash", "gemini-2.5-pro"}, cfg.Gemini.Models)
	assert.Equal(t, 7, cfg.Retry.Primary.MaxAttempts)
	assert.Equal(t, 4, cfg.Retry.Secondary.MaxAttempts)
	assert.Equal(t, time.Second, cfg.Retry.BaseDelay)
	assert.Equal(t, 1, cfg.Ingest.Concurrency)
	assert.Equal(t, 4, cfg.Batch.Workers)
	assert.Empty(t, cfg.Server.GRPCHealthAddr)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	yml := `
gemini:
  apiKey: from-file
  models: [a-fast, a-thorough]
retry:
  baseDelay: 250ms
  primary:
    maxAttempts: 5
openai:
  apiKey: oa-file
`
	require.NoError(t, os.WriteFile(path, []byte(yml), 0o600))

	t.Setenv("GEMINI_API_KEY", "from-env")
	t.Setenv("OPENAI_MODELS", "m1, m2")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", cfg.Gemini.APIKey)
	assert.Equal(t, []string{"a-fast", "a-thorough"}, cfg.Gemini.Models)
	assert.Equal(t, 250*time.Millisecond, cfg.Retry.BaseDelay)
	assert.Equal(t, 5, cfg.Retry.Primary.MaxAttempts)
	assert.Equal(t, 4, cfg.Retry.Secondary.MaxAttempts)
	assert.Equal(t, "oa-file", cfg.OpenAI.APIKey)
	assert.Equal(t, []string{"m1", "m2"}, cfg.OpenAI.Models)
	require.NoError(t, cfg.Validate())
}

func TestConfig_ValidateRequiresKeys(t *testing.T) {
	cfg := DefaultConfig()
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidInput))

	var appErr *AppError
	require.True(t, errors.As(err, &appErr))
	assert.Equal(t, "CONFIG_ERROR", appErr.Code)
}

func TestValidator(t *testing.T) {
	v := NewValidator().
		Field("prompt", "  ", Required).
		Field("context", "abcdef", MaxLength(3))

	require.True(t, v.HasErrors())
	assert.Equal(t, 2, strings.Count(v.ErrorMessage(), "validation failed for field"))

	err := ValidateAndReturnError(v)
	assert.True(t, errors.Is(err, ErrInvalidInput))
	assert.Contains(t, err.Error(), "prompt")
}

func TestValidator_MinCount(t *testing.T) {
	assert.False(t, NewValidator().Field("documents", 2, MinCount(1)).HasErrors())
	v := NewValidator().Field("documents", 0, MinCount(1))
	require.True(t, v.HasErrors())
	assert.Contains(t, v.ErrorMessage(), "at least 1")
}

func TestCancelled(t *testing.T) {
	err := Cancelled(errors.New("boom"))
	assert.True(t, errors.Is(err, ErrCancelled))
	assert.Contains(t, err.Error(), "boom")
}

func TestConfig_ValidateStore(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Gemini.APIKey = "g"
	cfg.OpenAI.APIKey = "o"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "postgres"
	require.Error(t, cfg.Validate())
	cfg.Store.DSN = "postgres://localhost/analyses"
	require.NoError(t, cfg.Validate())

	cfg.Store.Driver = "mysql"
	assert.ErrorIs(t, cfg.Validate(), ErrInvalidInput)
}
