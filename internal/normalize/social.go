package normalize

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var handleRe = regexp.MustCompile(`^[A-Za-z0-9_.\-]{2,64}$`)

// network describes how a profile handle becomes a canonical URL.
type network struct {
	hosts  []string
	prefix string
}

var networks = map[string]network{
	"telegram":  {hosts: []string{"t.me", "telegram.me"}, prefix: "https://t.me/"},
	"vk":        {hosts: []string{"vk.com", "m.vk.com", "vkontakte.ru"}, prefix: "https://vk.com/"},
	"instagram": {hosts: []string{"instagram.com", "www.instagram.com"}, prefix: "https://instagram.com/"},
	"linkedin":  {hosts: []string{"linkedin.com", "www.linkedin.com"}, prefix: "https://www.linkedin.com/in/"},
	"facebook":  {hosts: []string{"facebook.com", "www.facebook.com", "fb.com", "m.facebook.com"}, prefix: "https://facebook.com/"},
}

// SocialLinks canonicalizes a network → value group. Values may be bare
// handles ("@jane"), profile URLs or, for whatsapp, phone numbers.
func (n *Normalizer) SocialLinks(group map[string]string) (map[string]string, map[string]error) {
	links := make(map[string]string, len(group))
	var errs map[string]error

	for name, raw := range group {
		name = strings.ToLower(strings.TrimSpace(name))
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}

		link, err := n.socialLink(name, raw)
		if err != nil {
			if errs == nil {
				errs = make(map[string]error)
			}
			errs[name] = err
			continue
		}
		links[name] = link
	}
	return links, errs
}

func (n *Normalizer) socialLink(name, raw string) (string, error) {
	switch name {
	case "whatsapp":
		digits := raw
		if u, ok := parseURL(raw); ok && strings.Contains(u.Host, "wa.me") {
			digits = strings.Trim(u.Path, "/")
		}
		phone, err := n.Phone(digits)
		if err != nil {
			return "", fmt.Errorf("%w: %v", ErrInvalidLink, err)
		}
		return "https://wa.me/" + strings.TrimPrefix(phone, "+"), nil

	case "website", "site", "web":
		u, ok := parseURL(raw)
		if !ok {
			return "", ErrInvalidLink
		}
		return u.String(), nil
	}

	nw, known := networks[name]
	if !known {
		u, ok := parseURL(raw)
		if !ok {
			return "", fmt.Errorf("%w: unknown network %q", ErrInvalidLink, name)
		}
		return u.String(), nil
	}

	handle := strings.TrimPrefix(raw, "@")
	if u, ok := parseURL(raw); ok && strings.Contains(raw, "/") {
		if !hostMatches(u.Host, nw.hosts) {
			return "", fmt.Errorf("%w: %s is not a %s address", ErrInvalidLink, u.Host, name)
		}
		handle = profileHandle(u.Path)
	}
	if !handleRe.MatchString(handle) {
		return "", ErrInvalidLink
	}
	return nw.prefix + handle, nil
}

// profileHandle takes the last meaningful path segment: "/in/jane/" → "jane".
func profileHandle(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		if p := strings.TrimPrefix(parts[i], "@"); p != "" {
			return p
		}
	}
	return ""
}

func hostMatches(host string, hosts []string) bool {
	host = strings.ToLower(host)
	for _, h := range hosts {
		if host == h {
			return true
		}
	}
	return false
}

// parseURL accepts URLs with or without scheme and requires a dotted host.
func parseURL(raw string) (*url.URL, bool) {
	s := raw
	if !strings.Contains(s, "://") {
		s = "https://" + s
	}
	u, err := url.Parse(s)
	if err != nil || !strings.Contains(u.Host, ".") || strings.ContainsAny(u.Host, " @") {
		return nil, false
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, false
	}
	u.Host = strings.ToLower(u.Host)
	return u, true
}
