package classify

import (
	"fmt"
	"strings"
)

// Categories is the closed set of labels the backend may assign. Everything
// else parses to "unknown".
var Categories = []string{
	"jobs", "education", "travel", "finance", "ecommerce", "tech", "news",
	"media", "social", "forum", "health", "real_estate", "gaming", "sports",
	"adult", "cloud", "ai", "crypto", "security", "government", "general",
}

func contentPrompt(domain, text string) string {
	return fmt.Sprintf(`You are an expert web content classifier.

Read the following website content and categorize the site into one of these categories:
%s

Domain: %s

### WEBSITE TEXT:
%s

Respond strictly in this JSON format:
{
  "category": "<category>",
  "subcategory": "<subcategory>",
  "confidence": <1-10>,
  "explanation": "<why this category>"
}`, strings.Join(Categories, ", "), domain, text)
}

func fallbackPrompt(domain string) string {
	return fmt.Sprintf(`You are a domain classification expert.

Classify the website based on its domain name:
Domain: %s

Choose only one of the following categories:
%s

For each main category, also include a specific subcategory. Examples:
- tech -> "search", "hardware", "software", "developer tools"
- ecommerce -> "retail", "fashion", "electronics", "marketplace"
- health -> "medicine", "fitness", "mental health"
- jobs -> "job board", "freelancing", "company career page"
- media -> "video", "streaming", "music", "news"

If you are unsure about the correct category or subcategory, respond with:
- category: unknown
- subcategory: unknown

Respond strictly in this format:
category: <category>
subcategory: <subcategory>
confidence: <1-10>
explanation: <why this category>`, domain, strings.Join(Categories, ", "))
}
