package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// ErrorKind is the stable taxonomy for per-domain failures. Kinds travel on
// result objects, never as panics or cross-domain errors.
type ErrorKind string

// Error kinds recorded on scrape and classification results.
const (
	KindInvalidFormat       ErrorKind = "invalid_format"
	KindUnsafeTarget        ErrorKind = "unsafe_target"
	KindRobotsDisallowed    ErrorKind = "robots_disallowed"
	KindProtocolTimeout     ErrorKind = "protocol_timeout"
	KindTooManyRedirects    ErrorKind = "too_many_redirects"
	KindOversizedResponse   ErrorKind = "oversized_response"
	KindBlockedContent      ErrorKind = "blocked_content"
	KindExtractionFailure   ErrorKind = "extraction_failure"
	KindBothProtocolsFailed ErrorKind = "both_protocols_failed"
	KindDomainNotFound      ErrorKind = "domain_not_found"
	KindParseFailure        ErrorKind = "classification_parse_failure"
	KindBackendFailure      ErrorKind = "backend_failure"
	KindStorageFailure      ErrorKind = "storage_failure"
)

// DomainError pairs an error kind with a human-readable message suitable for
// persistence and triage logging.
type DomainError struct {
	Kind    ErrorKind
	Message string
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewDomainError builds a DomainError with a formatted message.
func NewDomainError(kind ErrorKind, format string, args ...any) *DomainError {
	return &DomainError{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the taxonomy kind from an error chain, or "" for nil and
// foreign errors.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var de *DomainError
	if errors.As(err, &de) {
		return de.Kind
	}
	return ""
}

// ScrapeResult is the immutable outcome of one fetch attempt for a domain.
type ScrapeResult struct {
	Domain       string
	Text         string
	Error        *DomainError
	Skipped      bool
	ResponseTime time.Duration
	FinalURL     string
}

// Succeeded reports whether the fetch produced usable content.
func (r ScrapeResult) Succeeded() bool {
	return !r.Skipped && r.Error == nil
}

// ClassificationResult is produced once per classification call; a later
// forced retry supersedes it in storage.
type ClassificationResult struct {
	Domain         string
	Category       string
	Subcategory    string
	Confidence     int
	Explanation    string
	Source         string
	Error          *DomainError
	LastClassified time.Time
}

// DomainRecord mirrors one persisted row per domain. A domain is "scraped"
// iff ScrapedText is non-nil (an empty string records a failed scrape), and
// "classified" iff Category is non-nil.
type DomainRecord struct {
	Domain           string
	ScrapedText      *string
	ScrapeError      *string
	LastScraped      *time.Time
	Category         *string
	Subcategory      *string
	Confidence       *int
	Explanation      *string
	Source           *string
	ClassifierError  *string
	LastClassified   *time.Time
	FlaggedForReview bool
}

// Scraped reports whether a scrape attempt has been recorded for the domain.
func (r DomainRecord) Scraped() bool { return r.ScrapedText != nil }

// Classified reports whether the domain carries a category.
func (r DomainRecord) Classified() bool { return r.Category != nil }

// Stats summarizes pipeline progress for operators.
type Stats struct {
	TotalDomains          int64 `json:"total_domains"`
	ScrapedDomains        int64 `json:"scraped_domains"`
	ClassifiedDomains     int64 `json:"classified_domains"`
	PendingClassification int64 `json:"pending_classification"`
	FlaggedForReview      int64 `json:"flagged_for_review"`
}

// RankedDomain is one entry of an ordered domain list.
type RankedDomain struct {
	Rank   int
	Domain string
}
