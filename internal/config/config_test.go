package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		DBHost:        "localhost",
		DBUser:        "compliancekb",
		DBName:        "compliancekb",
		ChunkMinChars: 800,
		ChunkMaxChars: 1200,
		EmbeddingDim:  1536,
	}
}

func TestValidate_OK(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestValidate_MissingRequired(t *testing.T) {
	cases := map[string]func(*Config){
		"db host": func(c *Config) { c.DBHost = "" },
		"db user": func(c *Config) { c.DBUser = "" },
		"db name": func(c *Config) { c.DBName = "" },
	}

	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := validConfig()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
		})
	}
}

func TestValidate_ChunkWindow(t *testing.T) {
	cfg := validConfig()
	cfg.ChunkMinChars = 0
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.ChunkMaxChars = cfg.ChunkMinChars
	assert.Error(t, cfg.Validate())
}

func TestValidate_EmbeddingDim(t *testing.T) {
	cfg := validConfig()
	cfg.EmbeddingDim = 0
	assert.ErrorIs(t, cfg.Validate(), ErrMissingRequired)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "gemini-embedding-001", cfg.EmbeddingModel)
	assert.Equal(t, 1536, cfg.EmbeddingDim)
	assert.Equal(t, 800, cfg.ChunkMinChars)
	assert.Equal(t, 1200, cfg.ChunkMaxChars)
	assert.Equal(t, 50, cfg.BackfillBatchSize)
	assert.Equal(t, 8081, cfg.ServerPort)
}
