// Package detection scans text for attack signatures using the compiled
// pattern library.
package detection

import (
	"errors"

	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/patterns"
)

// DefaultMaxScanSize bounds the CPU cost of a single scan (10 MiB).
const DefaultMaxScanSize = 10 * 1024 * 1024

// ErrInputTooLarge is returned when the input exceeds the scan limit.
// The caller must reject the request rather than skip the scan.
var ErrInputTooLarge = errors.New("detection: input exceeds max scan size")

type Detector struct {
	library     *patterns.Library
	enabled     []models.AttackCategory
	maxScanSize int
}

// NewDetector builds a detector over the given library. enabled selects
// the categories scanned when Detect is called without an explicit set;
// nil means the library default.
func NewDetector(library *patterns.Library, enabled []models.AttackCategory, maxScanSize int) *Detector {
	if len(enabled) == 0 {
		enabled = patterns.DefaultEnabled()
	}
	if maxScanSize <= 0 {
		maxScanSize = DefaultMaxScanSize
	}
	return &Detector{
		library:     library,
		enabled:     enabled,
		maxScanSize: maxScanSize,
	}
}

// Detect scans text against every selected category and returns a
// per-category result. Detection is deterministic and side-effect-free:
// categories are evaluated independently and a string may trigger
// several at once.
func (d *Detector) Detect(text string, categories ...models.AttackCategory) (models.DetectionResult, error) {
	if len(text) > d.maxScanSize {
		return nil, ErrInputTooLarge
	}

	if len(categories) == 0 {
		categories = d.enabled
	}

	result := make(models.DetectionResult, len(categories))
	for _, cat := range categories {
		result[cat] = false
		if text == "" {
			continue
		}
		for _, re := range d.library.Patterns(cat) {
			if re.MatchString(text) {
				result[cat] = true
				break
			}
		}
	}
	return result, nil
}

// Enabled returns the categories scanned by default.
func (d *Detector) Enabled() []models.AttackCategory {
	return d.enabled
}

// MaxScanSize returns the configured scan bound in bytes.
func (d *Detector) MaxScanSize() int {
	return d.maxScanSize
}
