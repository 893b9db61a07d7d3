package whitelist

import (
	"strings"

	"github.com/emersion/go-message/mail"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// Checker decides whether a sender belongs to a trusted domain.
// It implements core.SenderPolicy.
type Checker struct {
	domains []string
	logger  *zap.Logger
}

// NewChecker creates a new whitelist checker
func NewChecker(domains []string, logger *zap.Logger) *Checker {
	normalized := lo.Uniq(lo.Compact(lo.Map(domains, func(d string, _ int) string {
		return strings.TrimPrefix(strings.ToLower(strings.TrimSpace(d)), "@")
	})))

	if len(normalized) > 0 && logger != nil {
		logger.Info("Initialized whitelist checker", zap.Strings("domains", normalized))
	}

	return &Checker{
		domains: normalized,
		logger:  logger,
	}
}

// IsWhitelisted reports whether the sender's domain, or a parent of it, is trusted.
// from may be a bare address or a display form such as "Alice <alice@corp.test>".
func (c *Checker) IsWhitelisted(from string) bool {
	if len(c.domains) == 0 {
		return false
	}

	domain := senderDomain(from)
	if domain == "" {
		return false
	}

	ok := lo.ContainsBy(c.domains, func(trusted string) bool {
		return domain == trusted || strings.HasSuffix(domain, "."+trusted)
	})
	if ok && c.logger != nil {
		c.logger.Debug("Domain is whitelisted",
			zap.String("domain", domain),
			zap.String("email", from))
	}
	return ok
}

func senderDomain(from string) string {
	addr := strings.TrimSpace(from)
	if parsed, err := mail.ParseAddress(addr); err == nil {
		addr = parsed.Address
	}
	at := strings.LastIndex(addr, "@")
	if at < 0 || at == len(addr)-1 {
		return ""
	}
	return strings.ToLower(strings.TrimRight(addr[at+1:], ">"))
}
