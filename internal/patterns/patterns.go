// Package patterns holds the compiled attack-signature library. Patterns
// are compiled once at process start and are read-only afterwards.
package patterns

import (
	"fmt"
	"regexp"

	"github.com/nshruti113/request-shield/internal/models"
)

var rawPatterns = map[models.AttackCategory][]string{
	models.SQLInjection: {
		`[\s']+(OR|AND)[\s']+(.*?)[\s']*=[\s']*\w+`,
		`;\s*(\w+\s+)+`,
		`(UNION|SELECT|INSERT|UPDATE|DELETE|DROP|ALTER|CREATE|TRUNCATE|RENAME)[\s(]+`,
		`/\*.*?\*/`,
		`--.*$`,
		`(SLEEP|BENCHMARK)\s*\(`,
		`WAITFOR\s+DELAY`,
		`(INFORMATION_SCHEMA|SYSIBM|SYSDUMMY)`,
	},
	models.XSS: {
		`<script.*?>`,
		`<\s*script\b[^>]*>(.*?)<\s*/\s*script\s*>`,
		`javascript:[^\w\s]`,
		`on\w+\s*=\s*["']`,
		`(document|window|eval|setTimeout|setInterval)\s*\(`,
		`innerHTML|outerHTML|document\.write`,
		`fromCharCode|String\.fromCharCode`,
		`<\s*img[^>]*\bsrc\s*=\s*[^>]*>`,
		`<\s*iframe[^>]*\bsrc\s*=\s*[^>]*>`,
		`<\s*embed[^>]*\bsrc\s*=\s*[^>]*>`,
		`<\s*object[^>]*\bdata\s*=\s*[^>]*>`,
		`data:text/html`,
		`&#x[0-9a-f]{2}`,
	},
	models.PathTraversal: {
		`\.\./`,
		`\.\.\\`,
		`%2e%2e%2f`,
		`%252e%252e%252f`,
		`\.\.%2f`,
		`\.\.%5c`,
		`%2e%2e/`,
		`%2e%2e\\`,
		`\.\.%252f`,
		`\.\.%255c`,
	},
	models.CommandInjection: {
		"[;|`&$()\\\\><]",
		`[^\w]ping\s+`,
		`[^\w]wget\s+`,
		`[^\w]curl\s+`,
		`[^\w]bash\s+`,
		`[^\w]sh\s+`,
		`[^\w]cmd\s+`,
		`[^\w]python\s+`,
		`[^\w]perl\s+`,
		`[^\w]ruby\s+`,
		`[^\w]nmap\s+`,
		`[^\w]nc\s+`,
		`[^\w]netcat\s+`,
		`[^\w]nslookup\s+`,
		`[^\w]telnet\s+`,
		`[^\w]ssh\s+`,
	},
	models.OpenRedirect: {
		`[/\\]{2,}[^/\\]+`,
		`//\d+\.\d+\.\d+\.\d+`,
		`//[0-9a-f:]+:`,
		`%2f%2f`,
		`data:`,
		`vbscript:`,
		`javascript:`,
	},
	models.SSRF: {
		`(file|dict|gopher|phar)://`,
		`127\.0\.0\.\d+`,
		`localhost`,
		`0\.0\.0\.0`,
		`10\.\d+\.\d+\.\d+`,
		`172\.(1[6-9]|2[0-9]|3[0-1])\.\d+\.\d+`,
		`192\.168\.\d+\.\d+`,
		`169\.254\.\d+\.\d+`,
		`::1`,
		`fc00::`,
		`fe80::`,
		`metadata\.google\.internal`,
	},
	models.XXE: {
		`<!ENTITY`,
		`<!DOCTYPE[^>]+SYSTEM`,
		`<!DOCTYPE[^>]+PUBLIC`,
		`<!\[CDATA\[`,
		`<!\[INCLUDE\[`,
		`file://`,
		`php://`,
		`phar://`,
	},
	models.CSRF: {
		`<form.*?>`,
		`document\.forms\[.*?\]\.submit`,
		`XMLHttpRequest`,
		`fetch\s*\(`,
	},
	models.LDAPInjection: {
		`\(\s*\|\s*`,
		`\)\s*\(\s*\|`,
		`\(\s*&\s*`,
		`\(\s*!\s*`,
		`objectClass=\*`,
		`objectClass=\)`,
		`cn=[^,]*,`,
		`sn=[^,]*,`,
	},
	models.NoSQLInjection: {
		`\{\s*\$where\s*:`,
		`\{\s*\$gt\s*:`,
		`\{\s*\$ne\s*:`,
		`\{\s*\$nin\s*:`,
		`\{\s*\$or\s*:`,
		`\{\s*\$and\s*:`,
		`\$regex\s*:`,
		`\$exists\s*:`,
		`\$elemMatch\s*:`,
	},
	models.HTTPMethodOverride: {
		`(_method|X-HTTP-Method|X-HTTP-Method-Override|X-Method-Override)=`,
		`(_method|X-HTTP-Method|X-HTTP-Method-Override|X-Method-Override):`,
	},
	models.HTTPPollution: {
		`[&?][^=]*?=[^&]*?[&?][^=]*?=`,
		`[&?][^=]*?=[^&]*?%26[^=]*?=`,
		`[&?][^=]*?=[^&]*?%3F[^=]*?=`,
	},
}

// severity ranks each category for event reporting.
var severity = map[models.AttackCategory]models.Severity{
	models.SQLInjection:       models.SeverityHigh,
	models.XSS:                models.SeverityMedium,
	models.PathTraversal:      models.SeverityHigh,
	models.CommandInjection:   models.SeverityCritical,
	models.OpenRedirect:       models.SeverityMedium,
	models.SSRF:               models.SeverityHigh,
	models.XXE:                models.SeverityHigh,
	models.CSRF:               models.SeverityMedium,
	models.LDAPInjection:      models.SeverityHigh,
	models.NoSQLInjection:     models.SeverityHigh,
	models.HTTPMethodOverride: models.SeverityLow,
	models.HTTPPollution:      models.SeverityLow,
}

// SafeHeaders are request headers the firewall never inspects.
var SafeHeaders = map[string]bool{
	"accept":          true,
	"accept-encoding": true,
	"accept-language": true,
	"cache-control":   true,
	"connection":      true,
	"content-length":  true,
	"host":            true,
	"pragma":          true,
	"user-agent":      true,
}

// DefaultEnabled is the category set inspected when no explicit set is
// configured. The low-signal categories (CSRF, LDAP, NoSQL, method
// override, pollution) are compiled but off by default.
func DefaultEnabled() []models.AttackCategory {
	return []models.AttackCategory{
		models.SQLInjection,
		models.XSS,
		models.PathTraversal,
		models.CommandInjection,
		models.OpenRedirect,
		models.SSRF,
		models.XXE,
	}
}

// Library holds the compiled patterns for every attack category.
type Library struct {
	compiled map[models.AttackCategory][]*regexp.Regexp
}

// NewLibrary compiles all patterns case-insensitively. Called once at
// process start; the result is safe for concurrent use.
func NewLibrary() (*Library, error) {
	compiled := make(map[models.AttackCategory][]*regexp.Regexp, len(rawPatterns))
	for cat, exprs := range rawPatterns {
		res := make([]*regexp.Regexp, 0, len(exprs))
		for _, expr := range exprs {
			re, err := regexp.Compile(`(?i)` + expr)
			if err != nil {
				return nil, fmt.Errorf("compiling %s pattern %q: %w", cat, expr, err)
			}
			res = append(res, re)
		}
		compiled[cat] = res
	}
	return &Library{compiled: compiled}, nil
}

// Patterns returns the compiled patterns for a category.
func (l *Library) Patterns(cat models.AttackCategory) []*regexp.Regexp {
	return l.compiled[cat]
}

// Severity returns the reporting severity for a category.
func Severity(cat models.AttackCategory) models.Severity {
	if s, ok := severity[cat]; ok {
		return s
	}
	return models.SeverityLow
}

// MaxSeverity returns the highest severity among the given categories.
func MaxSeverity(cats []models.AttackCategory) models.Severity {
	max := models.SeverityLow
	for _, cat := range cats {
		if s := Severity(cat); s.Rank() > max.Rank() {
			max = s
		}
	}
	return max
}
