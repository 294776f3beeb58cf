package pricing

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gateway/pkg/errors"
)

const testModels = `{
  "gpt-4o": {"provider": "openai", "max_output_tokens": 16384, "pricing": {"input": 0.0025, "output": 0.01}},
  "claude-3": {"provider": "anthropic", "max_output_tokens": 4096, "pricing": {"input": 0.003, "output": 0.015, "currency": "usd"}}
}`

func TestCalculate(t *testing.T) {
	cat, err := Load(strings.NewReader(testModels))
	require.NoError(t, err)

	cost, err := cat.Calculate("gpt-4o", 1200, 350)
	require.NoError(t, err)
	assert.Equal(t, "0.003", cost.Input.String())
	assert.Equal(t, "0.0035", cost.Output.String())
	assert.Equal(t, "0.0065", cost.Total.String())
	assert.Equal(t, "USD", cost.Currency)

	// 1 prompt token at 0.003/1K is 0.000003, 1 completion token at 0.015/1K is 0.000015
	cost, err = cat.Calculate("claude-3", 1, 1)
	require.NoError(t, err)
	assert.Equal(t, "0.000018", cost.Total.String())
}

func TestCalculateRoundsEachSide(t *testing.T) {
	cat, err := Load(strings.NewReader(`{"tiny": {"provider": "x", "max_output_tokens": 1, "pricing": {"input": 0.0003, "output": 0.0003}}}`))
	require.NoError(t, err)

	// 0.0000003 rounds to 0 on each side
	cost, err := cat.Calculate("tiny", 1, 1)
	require.NoError(t, err)
	assert.True(t, cost.Total.IsZero())
}

func TestUnknownModel(t *testing.T) {
	cat, err := Load(strings.NewReader(testModels))
	require.NoError(t, err)

	_, err = cat.Calculate("gpt-5", 1, 1)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrUnknownModel))
	assert.True(t, errors.Is(err, errors.ErrNotFound))
}

func TestValidateTokenLimit(t *testing.T) {
	cat, err := Load(strings.NewReader(testModels))
	require.NoError(t, err)

	require.NoError(t, cat.ValidateTokenLimit("claude-3", 0))
	require.NoError(t, cat.ValidateTokenLimit("claude-3", 4096))

	err = cat.ValidateTokenLimit("claude-3", 5000)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.ErrTokenLimitExceeded))
}

func TestLoadValidation(t *testing.T) {
	_, err := Load(strings.NewReader(`{"m": {"provider": "", "max_output_tokens": 1}}`))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = Load(strings.NewReader(`{"m": {"provider": "p", "max_output_tokens": 0}}`))
	assert.True(t, errors.Is(err, errors.ErrInvalidInput))

	_, err = Load(strings.NewReader(`not json`))
	assert.Error(t, err)
}

func TestLoadFileAndModels(t *testing.T) {
	path := filepath.Join(t.TempDir(), "models.json")
	require.NoError(t, os.WriteFile(path, []byte(testModels), 0o600))

	cat, err := LoadFile(path)
	require.NoError(t, err)

	models := cat.Models()
	require.Len(t, models, 2)
	assert.Equal(t, "claude-3", models[0].ID)
	assert.Equal(t, "USD", models[0].Pricing.Currency)
	assert.Equal(t, "gpt-4o", models[1].ID)

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.json"))
	assert.Error(t, err)
}

func TestShippedModelsFile(t *testing.T) {
	cat, err := LoadFile(filepath.Join("..", "..", "..", "data", "models_config.json"))
	require.NoError(t, err)
	assert.NotEmpty(t, cat.Models())

	_, err = cat.Get("gpt-4o")
	require.NoError(t, err)
}
