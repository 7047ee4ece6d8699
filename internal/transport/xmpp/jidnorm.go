package xmpp

import (
	"fmt"
	"strings"

	"golang.org/x/net/idna"
	"mellium.im/xmpp/jid"
)

// parseNormalizedJID parses s and applies IDNA ToASCII to the domain
// part, the same normalization chasquid applies to SMTP domains before
// comparing or dialing them.
func parseNormalizedJID(s string) (jid.JID, error) {
	parts := strings.SplitN(s, "@", 2)
	if len(parts) != 2 {
		return jid.Parse(s)
	}
	local := parts[0]
	domainAndResource := parts[1]

	domain := domainAndResource
	resource := ""
	if i := strings.IndexByte(domainAndResource, '/'); i >= 0 {
		domain, resource = domainAndResource[:i], domainAndResource[i+1:]
	}

	ascii, err := idna.ToASCII(domain)
	if err != nil {
		return jid.JID{}, fmt.Errorf("normalizing domain %q: %w", domain, err)
	}

	normalized := local + "@" + ascii
	if resource != "" {
		normalized += "/" + resource
	}
	return jid.Parse(normalized)
}
