// Package firewall inspects inbound HTTP requests for attack
// signatures across path, query, headers and body.
package firewall

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/nshruti113/request-shield/internal/detection"
	"github.com/nshruti113/request-shield/internal/models"
	"github.com/nshruti113/request-shield/internal/patterns"
)

// ErrBodyTooLarge is returned when the request body exceeds the scan
// bound. The request must be rejected, not silently skipped.
var ErrBodyTooLarge = errors.New("firewall: request body exceeds max size")

// Inspected section names.
const (
	SectionPath    = "path"
	SectionQuery   = "query"
	SectionHeaders = "headers"
	SectionBody    = "body"
)

// Firewall orchestrates the attack detector across all relevant parts
// of a request.
type Firewall struct {
	detector *detection.Detector
	logger   *zap.Logger
}

func New(detector *detection.Detector, logger *zap.Logger) *Firewall {
	return &Firewall{detector: detector, logger: logger}
}

// Inspect scans the request and returns a verdict. A request is blocked
// when any section triggers any category; there is no scoring. Body
// read or decode problems skip only that section. The body is restored
// on the request so downstream handlers can still read it.
func (f *Firewall) Inspect(r *http.Request) (models.FirewallVerdict, error) {
	verdict := models.FirewallVerdict{
		Sections: make(map[string]models.DetectionResult),
	}

	if err := f.scanSection(&verdict, SectionPath, r.URL.Path); err != nil {
		return verdict, err
	}

	if len(r.URL.Query()) > 0 {
		if err := f.scanSection(&verdict, SectionQuery, serialize(r.URL.Query())); err != nil {
			return verdict, err
		}
	}

	unsafe := make(map[string]string)
	for name, values := range r.Header {
		if patterns.SafeHeaders[strings.ToLower(name)] {
			continue
		}
		unsafe[name] = strings.Join(values, ",")
	}
	if len(unsafe) > 0 {
		if err := f.scanSection(&verdict, SectionHeaders, serialize(unsafe)); err != nil {
			return verdict, err
		}
	}

	if hasBody(r.Method) && r.Body != nil {
		text, err := f.readBody(r)
		switch {
		case errors.Is(err, ErrBodyTooLarge):
			return verdict, err
		case err != nil:
			// Not inspectable; the other sections still count.
			f.logger.Error("firewall: reading request body", zap.Error(err))
		case text != "":
			if err := f.scanSection(&verdict, SectionBody, text); err != nil {
				return verdict, err
			}
		}
	}

	seen := make(map[models.AttackCategory]bool)
	for _, result := range verdict.Sections {
		for _, cat := range result.Triggered() {
			if !seen[cat] {
				seen[cat] = true
				verdict.Categories = append(verdict.Categories, cat)
			}
		}
	}
	verdict.Blocked = len(verdict.Categories) > 0
	return verdict, nil
}

func (f *Firewall) scanSection(verdict *models.FirewallVerdict, section, text string) error {
	result, err := f.detector.Detect(text)
	if err != nil {
		return err
	}
	verdict.Sections[section] = result
	return nil
}

// readBody consumes the body for scanning with invalid-byte tolerance,
// then puts it back for downstream handlers.
func (f *Firewall) readBody(r *http.Request) (string, error) {
	max := int64(f.detector.MaxScanSize())
	data, err := io.ReadAll(io.LimitReader(r.Body, max+1))
	r.Body.Close()
	if err != nil {
		r.Body = io.NopCloser(bytes.NewReader(data))
		return "", err
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	if int64(len(data)) > max {
		return "", ErrBodyTooLarge
	}
	return strings.ToValidUTF8(string(data), ""), nil
}

// serialize renders query params or headers for scanning. HTML escaping
// is disabled so payloads like <script> survive serialization intact.
func serialize(v any) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return ""
	}
	return buf.String()
}

func hasBody(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch:
		return true
	}
	return false
}
