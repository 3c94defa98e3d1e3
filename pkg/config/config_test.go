package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		MinConfidence: 0.7,
		LLM:           LLMConfig{Provider: LLMProviderOpenAI},
		Landing:       LandingConfig{StagingTTLHours: 24},
		Extract: ExtractConfig{
			BatchSize:             10000,
			ConnectTimeoutSeconds: 60,
			QueryTimeoutSeconds:   120,
		},
	}
}

func TestValidate_AcceptsDefaults(t *testing.T) {
	require.NoError(t, validConfig().Validate())
}

func TestValidate_RejectsShortTimeouts(t *testing.T) {
	cfg := validConfig()
	cfg.Extract.ConnectTimeoutSeconds = 30
	assert.Error(t, cfg.Validate())

	cfg = validConfig()
	cfg.Extract.QueryTimeoutSeconds = 60
	assert.Error(t, cfg.Validate())
}

func TestValidate_RejectsBadConfidence(t *testing.T) {
	cfg := validConfig()
	cfg.MinConfidence = 1.5
	assert.Error(t, cfg.Validate())
}

func TestExcludedFields_Parsing(t *testing.T) {
	cfg := validConfig()
	assert.Nil(t, cfg.ExcludedFields())

	cfg.ExcludedFieldsOverride = "Product_Line, Business Unit ,PRODUCT_TYPE"
	assert.Equal(t, []string{"Product_Line", "Business Unit", "PRODUCT_TYPE"}, cfg.ExcludedFields())
}

func TestConnectionStrings(t *testing.T) {
	store := StoreConfig{Host: "h", Port: 5432, User: "u", Password: "p", Database: "d", SSLMode: "disable"}
	assert.Equal(t, "host=h port=5432 user=u password=p dbname=d sslmode=disable", store.ConnectionString())

	landing := LandingConfig{Host: "h", Port: 5433, User: "u", Password: "p", Database: "l", SSLMode: "disable", StagingTTLHours: 12}
	assert.Contains(t, landing.ConnectionString(), "dbname=l")
	assert.Equal(t, 12.0, landing.StagingTTL().Hours())
}

func TestLLMConfig(t *testing.T) {
	llm := LLMConfig{}
	assert.False(t, llm.IsAvailable())
	llm.Endpoint = "http://localhost:8000/v1"
	llm.Model = "qwen3-32b"
	assert.True(t, llm.IsAvailable())
}
