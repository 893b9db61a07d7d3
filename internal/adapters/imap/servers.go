package imap

import "strings"

// FallbackHost serves any address whose domain has no known IMAP server
const FallbackHost = "mail.privateemail.com"

var knownServers = map[string]string{
	"gmail.com":        "imap.gmail.com",
	"outlook.com":      "imap-mail.outlook.com",
	"hotmail.com":      "imap-mail.outlook.com",
	"yahoo.com":        "imap.mail.yahoo.com",
	"privateemail.com": "mail.privateemail.com",
}

// ResolveServer picks the IMAP host for an address from its domain.
// Entries in overrides take precedence over the built-in map.
func ResolveServer(address string, overrides map[string]string, defaultHost string) string {
	domain := address
	if i := strings.LastIndex(address, "@"); i >= 0 {
		domain = address[i+1:]
	}
	domain = strings.ToLower(strings.TrimSpace(domain))

	for d, host := range overrides {
		if strings.EqualFold(d, domain) && host != "" {
			return host
		}
	}
	if host, ok := knownServers[domain]; ok {
		return host
	}
	if defaultHost != "" {
		return defaultHost
	}
	return FallbackHost
}
