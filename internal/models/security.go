package models

import "time"

// AttackCategory identifies one class of attack signature.
type AttackCategory string

const (
	SQLInjection       AttackCategory = "sql_injection"
	XSS                AttackCategory = "xss"
	PathTraversal      AttackCategory = "path_traversal"
	CommandInjection   AttackCategory = "command_injection"
	OpenRedirect       AttackCategory = "open_redirect"
	SSRF               AttackCategory = "ssrf"
	XXE                AttackCategory = "xxe"
	CSRF               AttackCategory = "csrf"
	LDAPInjection      AttackCategory = "ldap_injection"
	NoSQLInjection     AttackCategory = "nosql_injection"
	HTTPMethodOverride AttackCategory = "http_method_override"
	HTTPPollution      AttackCategory = "http_pollution"
)

// AllCategories lists every category the pattern library compiles.
func AllCategories() []AttackCategory {
	return []AttackCategory{
		SQLInjection, XSS, PathTraversal, CommandInjection,
		OpenRedirect, SSRF, XXE, CSRF,
		LDAPInjection, NoSQLInjection, HTTPMethodOverride, HTTPPollution,
	}
}

// Severity classifies how dangerous a detected category is.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank orders severities for threshold comparisons. Unknown values rank
// lowest.
func (s Severity) Rank() int {
	switch s {
	case SeverityCritical:
		return 3
	case SeverityHigh:
		return 2
	case SeverityMedium:
		return 1
	default:
		return 0
	}
}

// DetectionResult maps each inspected category to whether any of its
// patterns matched. Created fresh per inspection call.
type DetectionResult map[AttackCategory]bool

// Any reports whether at least one category matched.
func (d DetectionResult) Any() bool {
	for _, hit := range d {
		if hit {
			return true
		}
	}
	return false
}

// Triggered returns the categories that matched.
func (d DetectionResult) Triggered() []AttackCategory {
	cats := make([]AttackCategory, 0, len(d))
	for cat, hit := range d {
		if hit {
			cats = append(cats, cat)
		}
	}
	return cats
}

// FirewallVerdict is the outcome of inspecting one request.
type FirewallVerdict struct {
	Blocked    bool                       `json:"blocked"`
	Categories []AttackCategory           `json:"categories"`
	Sections   map[string]DetectionResult `json:"sections"`
}

// Tier is a client's reputation classification. It scales the client's
// rate quota and is derived purely from the suspicious counter.
type Tier string

const (
	TierNormal     Tier = "normal"
	TierSuspicious Tier = "suspicious"
	TierBot        Tier = "bot"
)

// Multiplier returns the quota multiplier applied to the route limit.
func (t Tier) Multiplier() float64 {
	switch t {
	case TierSuspicious:
		return 0.33
	case TierBot:
		return 0.1
	default:
		return 1.0
	}
}

// ClientIdentity attributes a request to a single actor. ID is the
// stable key (token-derived or IP+User-Agent hash) used for all
// reputation and rate state; IP is kept alongside for CIDR checks.
type ClientIdentity struct {
	ID        string `json:"id"`
	IP        string `json:"ip"`
	UserAgent string `json:"user_agent,omitempty"`
}

// ClientStatus is the reputation snapshot exposed on the admin API.
type ClientStatus struct {
	Client          string `json:"client"`
	Tier            Tier   `json:"tier"`
	SuspiciousCount int64  `json:"suspicious_count"`
	Blocked         bool   `json:"blocked"`
}

// RateLimitResult is the outcome of one admission check.
type RateLimitResult struct {
	Allowed    bool `json:"allowed"`
	Limit      int  `json:"limit"`
	Remaining  int  `json:"remaining"`
	RetryAfter int  `json:"retry_after_seconds"`
}

// Challenge is an arithmetic puzzle offered to bot-tier clients as a
// soft alternative to a hard block.
type Challenge struct {
	Type      string `json:"type"`
	Challenge string `json:"challenge"`
	Token     string `json:"token"`
}

// SecurityEvent is emitted on every block or escalation for audit
// logging and the live dashboard feed.
type SecurityEvent struct {
	ID         string           `json:"id"`
	Type       string           `json:"type"`
	ClientID   string           `json:"client_id"`
	IP         string           `json:"ip"`
	Path       string           `json:"path"`
	Method     string           `json:"method"`
	Categories []AttackCategory `json:"categories,omitempty"`
	Severity   Severity         `json:"severity"`
	Timestamp  time.Time        `json:"timestamp"`
}

// Event types carried in SecurityEvent.Type.
const (
	EventAttackBlocked     = "attack_blocked"
	EventRateLimitExceeded = "rate_limit_exceeded"
	EventClientBlocked     = "client_blocked"
	EventTierEscalated     = "tier_escalated"
	EventClientUnblocked   = "client_unblocked"
)
