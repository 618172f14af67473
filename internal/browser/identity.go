package browser

import "math/rand"

var userAgents = []string{
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/124.0.0.0 Safari/537.36",
	"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.1 Safari/605.1.15",
	"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/122.0.0.0 Safari/537.36",
	"Mozilla/5.0 (iPhone; CPU iPhone OS 16_5 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
	"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:124.0) Gecko/20100101 Firefox/124.0",
}

// identity is the per-checkout browsing fingerprint. Every session checkout
// gets a fresh one so no two domains share observable state.
type identity struct {
	UserAgent string
	Width     int
	Height    int
	Locale    string
}

func newIdentity(rng *rand.Rand) identity {
	return identity{
		UserAgent: userAgents[rng.Intn(len(userAgents))],
		Width:     1280 + rng.Intn(321),
		Height:    720 + rng.Intn(281),
		Locale:    "en-US",
	}
}
