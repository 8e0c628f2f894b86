// Package provurl builds and parses the provisioning URL the secondary
// device displays as a scannable code.
//
// The pub_key parameter uses standard base64 with a hand-built escaper that
// leaves '+' and '/' unescaped. That matches the legacy Android format;
// running the value through a generic RFC 3986 query encoder would produce a
// URL the primary cannot parse.
package provurl

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	Scheme = "sgnl"
	Host   = "linkdevice"
)

// Capability flags advertised in the provisioning URL.
type Capability string

const CapabilityLinkNSync Capability = "linknsync"

// Errors returned by Build and Parse.
var (
	ErrEncoding = errors.New("provisioning url encoding failed")
	ErrBadURL   = errors.New("not a provisioning url")
)

// Build encodes the channel identifier, the secondary's ephemeral public key
// and the capability flags into a provisioning URL.
func Build(channelID string, publicKey []byte, caps []Capability) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("%w: empty channel id", ErrEncoding)
	}
	if len(publicKey) == 0 {
		return "", fmt.Errorf("%w: empty public key", ErrEncoding)
	}

	var b strings.Builder
	b.WriteString(Scheme)
	b.WriteString("://")
	b.WriteString(Host)
	b.WriteString("?uuid=")
	b.WriteString(url.QueryEscape(channelID))
	b.WriteString("&pub_key=")
	b.WriteString(escapePublicKey(base64.StdEncoding.EncodeToString(publicKey)))

	if len(caps) > 0 {
		names := make([]string, 0, len(caps))
		for _, c := range caps {
			names = append(names, string(c))
		}
		b.WriteString("&capabilities=")
		b.WriteString(strings.Join(names, ","))
	}

	return b.String(), nil
}

// Parse extracts the channel id, public key and capabilities from a
// provisioning URL produced by Build (or by a compatible client).
func Parse(raw string) (channelID string, publicKey []byte, caps []Capability, err error) {
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: %v", ErrBadURL, err)
	}
	if u.Scheme != Scheme || u.Host != Host {
		return "", nil, nil, fmt.Errorf("%w: %q", ErrBadURL, raw)
	}

	q := u.Query()
	channelID = q.Get("uuid")
	if channelID == "" {
		return "", nil, nil, fmt.Errorf("%w: missing uuid", ErrBadURL)
	}

	// url.Query maps a literal '+' to a space; base64 never contains a
	// space, so mapping it back is unambiguous.
	keyParam := q.Get("pub_key")
	if keyParam == "" {
		return "", nil, nil, fmt.Errorf("%w: missing pub_key", ErrBadURL)
	}
	publicKey, err = base64.StdEncoding.DecodeString(strings.ReplaceAll(keyParam, " ", "+"))
	if err != nil {
		return "", nil, nil, fmt.Errorf("%w: bad pub_key: %v", ErrBadURL, err)
	}

	if v := q.Get("capabilities"); v != "" {
		for _, name := range strings.Split(v, ",") {
			caps = append(caps, Capability(name))
		}
	}
	return channelID, publicKey, caps, nil
}

// escapePublicKey percent-escapes a base64 string for use as a query value,
// except that '+' and '/' stay literal.
func escapePublicKey(s string) string {
	var b strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c >= 'A' && c <= 'Z', c >= 'a' && c <= 'z', c >= '0' && c <= '9':
			b.WriteByte(c)
		case c == '+' || c == '/' || c == '-' || c == '_' || c == '.' || c == '~':
			b.WriteByte(c)
		default:
			fmt.Fprintf(&b, "%%%02X", c)
		}
	}
	return b.String()
}
