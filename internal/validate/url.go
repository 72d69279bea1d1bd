package validate

import (
	"net"
	"net/url"
	"regexp"
	"strings"
)

// URLResult is the outcome of URL validation.
type URLResult struct {
	Valid      bool
	Secure     bool
	Normalized string
	Warning    string
}

var hostLabel = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,61}[a-z0-9])?$`)

// URL normalizes raw into an absolute http(s) URL. A missing scheme is
// taken to be https. Plain http is accepted but flagged as insecure.
func URL(raw string) URLResult {
	s := strings.TrimSpace(raw)
	if s == "" {
		return URLResult{}
	}

	switch {
	case strings.HasPrefix(s, "//"):
		s = "https:" + s
	case !strings.Contains(s, "://"):
		s = "https://" + s
	}

	u, err := url.Parse(s)
	if err != nil {
		return URLResult{Normalized: s, Warning: "unparseable url"}
	}

	scheme := strings.ToLower(u.Scheme)
	if scheme != "http" && scheme != "https" {
		return URLResult{Normalized: s, Warning: "unsupported scheme " + scheme}
	}
	u.Scheme = scheme

	if !validHost(u.Hostname()) {
		return URLResult{Normalized: s, Warning: "invalid hostname"}
	}

	res := URLResult{Valid: true, Normalized: u.String(), Secure: scheme == "https"}
	if !res.Secure {
		res.Warning = "insecure scheme http"
	}
	return res
}

func validHost(host string) bool {
	if host == "" {
		return false
	}
	if net.ParseIP(host) != nil {
		return true
	}

	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "localhost" {
		return true
	}

	labels := strings.Split(host, ".")
	if len(labels) < 2 {
		return false
	}
	for _, l := range labels {
		if !hostLabel.MatchString(l) {
			return false
		}
	}

	tld := labels[len(labels)-1]
	if len(tld) < 2 {
		return false
	}
	for _, r := range tld {
		if r >= '0' && r <= '9' {
			return false
		}
	}
	return true
}
