package classify

import "strings"

// noiseSignals mark scrape text that is an error page or bot wall rather
// than real content. Two or more matches route classification to the
// domain-name fallback path.
var noiseSignals = []string{
	"error 404", "not found", "403 forbidden", "cloudflare", "captcha",
	"this site can’t be reached", "access denied", "nginx", "server error",
	"that’s all we know", "please enable javascript", "502 bad gateway",
}

// uselessText reports whether scraped text is too thin or too noisy to
// classify from content.
func uselessText(text string) bool {
	trimmed := strings.TrimSpace(text)
	if len(trimmed) < 30 {
		return true
	}

	lowered := strings.ToLower(trimmed)
	matched := 0
	for _, signal := range noiseSignals {
		if strings.Contains(lowered, signal) {
			matched++
		}
	}
	return matched >= 2 || len(strings.Fields(lowered)) < 10
}
