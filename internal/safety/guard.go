// Package safety implements the SSRF defense: DNS resolution with rejection
// of private, reserved, and cloud-metadata targets. The same check guards
// the initial fetch and every redirect hop, because a redirect chain can
// point at internal services long after the first hostname looked safe.
package safety

import (
	"context"
	"net"
	"net/url"

	"go.uber.org/zap"

	"github.com/webtaxon/webtaxon/internal/domain"
	"github.com/webtaxon/webtaxon/internal/pipeline"
)

// Resolver looks up the IP addresses for a host. *net.Resolver satisfies it.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

// Guard validates that a domain resolves exclusively to publicly routable
// addresses before any fetch is attempted.
type Guard struct {
	resolver Resolver
	metadata *MetadataSet
	logger   *zap.Logger
}

// NewGuard builds a Guard. A nil resolver falls back to net.DefaultResolver.
func NewGuard(resolver Resolver, metadata *MetadataSet, logger *zap.Logger) *Guard {
	if resolver == nil {
		resolver = net.DefaultResolver
	}
	return &Guard{
		resolver: resolver,
		metadata: metadata,
		logger:   logger,
	}
}

// Check resolves both address families for the domain and fails closed: zero
// resolved addresses or any dangerous address yields an unsafe-target error.
func (g *Guard) Check(ctx context.Context, dom string) error {
	addrs, err := g.resolver.LookupIPAddr(ctx, dom)
	if err != nil || len(addrs) == 0 {
		return pipeline.NewDomainError(pipeline.KindUnsafeTarget,
			"domain %s did not resolve to any address", dom)
	}
	for _, addr := range addrs {
		if reason := g.dangerous(addr.IP); reason != "" {
			g.logger.Warn("unsafe resolution rejected",
				zap.String("domain", dom),
				zap.String("ip", addr.IP.String()),
				zap.String("reason", reason),
			)
			return pipeline.NewDomainError(pipeline.KindUnsafeTarget,
				"domain %s resolved to %s address %s", dom, reason, addr.IP)
		}
	}
	return nil
}

// CheckURL normalizes and validates the host of rawURL, then runs Check.
// It is applied to every redirect target before the hop is followed.
func (g *Guard) CheckURL(ctx context.Context, rawURL string) error {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Hostname() == "" {
		return pipeline.NewDomainError(pipeline.KindUnsafeTarget,
			"redirect target %q has no resolvable host", rawURL)
	}
	host := parsed.Hostname()

	// A literal IP in a redirect bypasses DNS; screen it directly.
	if ip := net.ParseIP(host); ip != nil {
		if reason := g.dangerous(ip); reason != "" {
			return pipeline.NewDomainError(pipeline.KindUnsafeTarget,
				"redirect target %s is a %s address", host, reason)
		}
		return nil
	}

	normalized := domain.Normalize(host)
	if err := domain.Validate(normalized); err != nil {
		return pipeline.NewDomainError(pipeline.KindUnsafeTarget,
			"redirect target host %q is malformed", host)
	}
	return g.Check(ctx, normalized)
}

// dangerous returns a short reason when the address must never be fetched,
// or "" when it is publicly routable.
func (g *Guard) dangerous(ip net.IP) string {
	switch {
	case ip == nil:
		return "unparseable"
	case g.metadata != nil && g.metadata.Contains(ip):
		return "cloud-metadata"
	case ip.IsLoopback():
		return "loopback"
	case ip.IsPrivate():
		return "private"
	case ip.IsLinkLocalUnicast():
		return "link-local"
	case ip.IsLinkLocalMulticast(), ip.IsMulticast():
		return "multicast"
	case ip.IsUnspecified():
		return "unspecified"
	}
	if v4 := ip.To4(); v4 != nil {
		// 240.0.0.0/4 is reserved and not covered by the stdlib predicates.
		if v4[0] >= 240 {
			return "reserved"
		}
		return ""
	}
	// Deprecated IPv6 site-local range (fec0::/10).
	if len(ip) == net.IPv6len && ip[0] == 0xfe && ip[1]&0xc0 == 0xc0 {
		return "site-local"
	}
	return ""
}
