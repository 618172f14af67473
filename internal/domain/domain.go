// Package domain normalizes and validates raw domain strings before any
// network activity happens. Validation is purely syntactic.
package domain

import (
	"strings"

	"github.com/webtaxon/webtaxon/internal/pipeline"
)

const (
	maxDomainLength = 253
	maxLabelLength  = 63
)

// Normalize canonicalizes a raw domain or URL string to a bare lowercase
// hostname: scheme, credentials, port, path, query, fragment, and a leading
// "www." prefix are all stripped.
func Normalize(raw string) string {
	s := strings.TrimSpace(strings.ToLower(raw))

	if idx := strings.Index(s, "://"); idx != -1 {
		s = s[idx+3:]
	}
	if idx := strings.IndexAny(s, "/?#"); idx != -1 {
		s = s[:idx]
	}
	if idx := strings.LastIndex(s, "@"); idx != -1 {
		s = s[idx+1:]
	}
	// Strip a port, but leave IPv6 literals (which contain colons) alone.
	if idx := strings.LastIndex(s, ":"); idx != -1 && strings.Count(s, ":") == 1 {
		s = s[:idx]
	}
	s = strings.TrimPrefix(s, "www.")
	return strings.Trim(s, ".")
}

// Validate checks RFC-host syntax: total length at most 253 characters,
// dot-separated labels of 1-63 characters, alphanumerics and hyphens only,
// no leading or trailing hyphen, and an alphabetic top-level label. It
// returns a pipeline.KindInvalidFormat error on failure and never performs
// network I/O.
func Validate(domain string) error {
	if domain == "" {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat, "empty domain")
	}
	if len(domain) > maxDomainLength {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain exceeds %d characters", maxDomainLength)
	}
	labels := strings.Split(domain, ".")
	if len(labels) < 2 {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain %q has no top-level label", domain)
	}
	for _, label := range labels {
		if err := validateLabel(domain, label); err != nil {
			return err
		}
	}
	if !alphabetic(labels[len(labels)-1]) {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain %q has a non-alphabetic top-level label", domain)
	}
	return nil
}

func validateLabel(domain, label string) error {
	if label == "" {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain %q contains an empty label", domain)
	}
	if len(label) > maxLabelLength {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain %q label %q exceeds %d characters", domain, label, maxLabelLength)
	}
	if label[0] == '-' || label[len(label)-1] == '-' {
		return pipeline.NewDomainError(pipeline.KindInvalidFormat,
			"domain %q label %q has a leading or trailing hyphen", domain, label)
	}
	for i := 0; i < len(label); i++ {
		c := label[i]
		switch {
		case c >= 'a' && c <= 'z':
		case c >= '0' && c <= '9':
		case c == '-':
		default:
			return pipeline.NewDomainError(pipeline.KindInvalidFormat,
				"domain %q label %q contains invalid character %q", domain, label, c)
		}
	}
	return nil
}

func alphabetic(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < 'a' || s[i] > 'z' {
			return false
		}
	}
	return true
}
