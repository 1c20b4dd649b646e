package patterns

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/request-shield/internal/models"
)

func TestNewLibraryCompilesAllCategories(t *testing.T) {
	lib, err := NewLibrary()
	require.NoError(t, err)

	for _, cat := range models.AllCategories() {
		assert.NotEmpty(t, lib.Patterns(cat), "category %s has no patterns", cat)
	}
}

func TestDefaultEnabledIsSubset(t *testing.T) {
	enabled := make(map[models.AttackCategory]bool)
	for _, cat := range DefaultEnabled() {
		enabled[cat] = true
	}

	assert.True(t, enabled[models.SQLInjection])
	assert.True(t, enabled[models.XSS])
	assert.True(t, enabled[models.CommandInjection])

	// Low-signal categories stay off unless configured.
	assert.False(t, enabled[models.CSRF])
	assert.False(t, enabled[models.HTTPPollution])
	assert.False(t, enabled[models.HTTPMethodOverride])
}

func TestSeverity(t *testing.T) {
	assert.Equal(t, models.SeverityCritical, Severity(models.CommandInjection))
	assert.Equal(t, models.SeverityHigh, Severity(models.SQLInjection))
	assert.Equal(t, models.SeverityMedium, Severity(models.XSS))
	assert.Equal(t, models.SeverityLow, Severity(models.HTTPPollution))
	assert.Equal(t, models.SeverityLow, Severity(models.AttackCategory("unknown")))
}

func TestMaxSeverity(t *testing.T) {
	cats := []models.AttackCategory{models.XSS, models.CommandInjection, models.SQLInjection}
	assert.Equal(t, models.SeverityCritical, MaxSeverity(cats))
	assert.Equal(t, models.SeverityLow, MaxSeverity(nil))
}

func TestSafeHeadersAreLowercase(t *testing.T) {
	assert.True(t, SafeHeaders["user-agent"])
	assert.True(t, SafeHeaders["accept-encoding"])
	assert.False(t, SafeHeaders["authorization"])
	assert.False(t, SafeHeaders["x-forwarded-for"])
}
