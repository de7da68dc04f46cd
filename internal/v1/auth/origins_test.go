package auth

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestGetAllowedOriginsFromEnv_SplitsConfiguredList(t *testing.T) {
	t.Setenv("TEST_ORIGINS", "http://localhost:3000,https://example.com")

	origins := GetAllowedOriginsFromEnv("TEST_ORIGINS", []string{"http://default"})
	assert.Equal(t, []string{"http://localhost:3000", "https://example.com"}, origins)
}

func TestGetAllowedOriginsFromEnv_FallsBackToDefaults(t *testing.T) {
	t.Setenv("TEST_ORIGINS_EMPTY", "")

	defaults := []string{"http://localhost:3000", "http://localhost:8080"}
	assert.Equal(t, defaults, GetAllowedOriginsFromEnv("TEST_ORIGINS_EMPTY", defaults))
}
