package dedup

import (
	"net/url"
	"path"
	"slices"
	"strings"
)

var trackingQueryKeys = map[string]bool{
	"fbclid":  true,
	"gclid":   true,
	"mc_cid":  true,
	"mc_eid":  true,
	"ref":     true,
	"ref_src": true,
	"ocid":    true,
	"cmpid":   true,
}

// CanonicalURL is the exact-dedup key: scheme and host lowercased, default
// port, credentials, fragment, trailing slash and tracking parameters
// dropped, remaining query sorted. Unparseable or relative URLs yield "".
func CanonicalURL(raw string) string {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return ""
	}

	canon := url.URL{
		Scheme:   strings.ToLower(parsed.Scheme),
		Path:     canonicalPath(parsed),
		RawQuery: canonicalQuery(parsed.Query()),
	}
	canon.Host = canonicalHost(canon.Scheme, parsed)
	return canon.String()
}

func canonicalHost(scheme string, u *url.URL) string {
	host := strings.ToLower(u.Hostname())
	switch port := u.Port(); {
	case port == "":
	case scheme == "http" && port == "80":
	case scheme == "https" && port == "443":
	default:
		host += ":" + port
	}
	return host
}

// canonicalPath collapses repeated slashes and drops a trailing one.
func canonicalPath(u *url.URL) string {
	p := u.Path
	if p == "" {
		return "/"
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	if len(p) > 1 {
		p = strings.TrimSuffix(p, "/")
	}
	if !path.IsAbs(p) {
		p = "/" + p
	}
	return p
}

func canonicalQuery(q url.Values) string {
	for key, values := range q {
		lower := strings.ToLower(key)
		if strings.HasPrefix(lower, "utm_") || trackingQueryKeys[lower] {
			q.Del(key)
			continue
		}
		slices.Sort(values)
	}
	// Encode sorts by key.
	return q.Encode()
}
