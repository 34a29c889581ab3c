package fitbit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// RedirectPolicy decides where the callback may send the browser after a
// successful exchange.
type RedirectPolicy struct {
	origins map[string]bool
	pattern *regexp.Regexp
}

// NewRedirectPolicy builds a policy from exact origins and an optional
// regular expression matched against the origin.
func NewRedirectPolicy(origins []string, pattern string) (*RedirectPolicy, error) {
	p := &RedirectPolicy{origins: make(map[string]bool, len(origins))}
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			p.origins[o] = true
		}
	}
	if pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid redirect pattern %q: %w", pattern, err)
		}
		p.pattern = re
	}
	return p, nil
}

// ParseOrigins splits a ';'-separated origin list.
func ParseOrigins(list string) []string {
	var out []string
	for _, o := range strings.Split(list, ";") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// Allowed reports whether uri is an acceptable redirect target. Localhost is
// always allowed; anything else must be https and match an origin or the pattern.
func (p *RedirectPolicy) Allowed(uri string) bool {
	u, err := url.Parse(uri)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return false
	}

	host := u.Hostname()
	if host == "localhost" || host == "127.0.0.1" {
		return true
	}
	if u.Scheme != "https" {
		return false
	}

	origin := u.Scheme + "://" + u.Host
	if p.origins[origin] {
		return true
	}
	return p.pattern != nil && p.pattern.MatchString(origin)
}

// WithIdentity returns uri with the uid query parameter set.
func WithIdentity(uri, localIdentity string) (string, error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", err
	}
	q := u.Query()
	q.Set("uid", localIdentity)
	u.RawQuery = q.Encode()
	return u.String(), nil
}
