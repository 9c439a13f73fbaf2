// Package cookie keeps the cookies a client stack collects from Set-Cookie
// fields and hands back the Cookie field for later requests.
package cookie

import (
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"

	"golang.org/x/net/publicsuffix"
)

// Store is the cookie collaborator of the HTTP engine. Implementations
// must be safe for concurrent use.
type Store interface {
	// SetCookie records one Set-Cookie field value received from u and
	// reports whether it was accepted.
	SetCookie(u *url.URL, attrs string) bool
	// GetCookies returns the cookies to send to u.
	GetCookies(u *url.URL) []*http.Cookie
}

// JarStore is a Store over net/http/cookiejar with the public suffix list.
type JarStore struct {
	jar *cookiejar.Jar
}

var _ Store = (*JarStore)(nil)

func NewJarStore() (*JarStore, error) {
	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return nil, err
	}
	return &JarStore{jar: jar}, nil
}

// SetCookie parses attrs and stores the cookie. Malformed values and
// Domain attributes the origin may not set are refused.
func (s *JarStore) SetCookie(u *url.URL, attrs string) bool {
	c, err := http.ParseSetCookie(attrs)
	if err != nil {
		return false
	}
	if c.Domain != "" && !domainAllowed(u.Hostname(), c.Domain) {
		return false
	}
	s.jar.SetCookies(u, []*http.Cookie{c})
	return true
}

func (s *JarStore) GetCookies(u *url.URL) []*http.Cookie {
	return s.jar.Cookies(u)
}

// Header renders the Cookie field value for u, or "" when nothing applies.
func Header(s Store, u *url.URL) string {
	if s == nil {
		return ""
	}
	cookies := s.GetCookies(u)
	if len(cookies) == 0 {
		return ""
	}
	var b strings.Builder
	for i, c := range cookies {
		if i > 0 {
			b.WriteString("; ")
		}
		b.WriteString(c.Name)
		b.WriteByte('=')
		b.WriteString(c.Value)
	}
	return b.String()
}

func domainAllowed(host, domain string) bool {
	host = strings.ToLower(host)
	domain = strings.ToLower(strings.TrimPrefix(domain, "."))
	if net.ParseIP(host) != nil {
		return host == domain
	}
	if host != domain && !strings.HasSuffix(host, "."+domain) {
		return false
	}
	// A host may not widen a cookie to a public suffix other than itself.
	if suffix, _ := publicsuffix.PublicSuffix(domain); suffix == domain {
		return host == domain
	}
	return true
}
