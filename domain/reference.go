package domain

import (
	"errors"
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

const (
	webHost = "github.com"
	rawHost = "raw.githubusercontent.com"

	scpPrefix = "git@github.com:"
	gitSuffix = ".git"
)

var (
	// ErrUnsupportedURLShape means the host was recognized but the URL
	// does not match any supported shape.
	ErrUnsupportedURLShape = errors.New("unsupported GitHub URL shape")

	// ErrUnrecognizedURL means the host was not recognized at all.
	ErrUnrecognizedURL = errors.New("unrecognized submission URL")
)

// refRule binds one URL-shape pattern to its RepoRef constructor. Rules are
// evaluated in priority order; the first match wins. The shapes are mutually
// exclusive by construction (each requires a distinct path marker), so the
// order only fixes the contract, it does not change outcomes.
type refRule struct {
	pattern *regexp.Regexp
	build   func(m []string) RepoRef
}

//nolint:gochecknoglobals // fixed rule table, compiled once
var refRules = []refRule{
	{
		// single file with explicit branch ("blob" marker)
		pattern: regexp.MustCompile(`(?i)^https?://github\.com/([^/]+)/([^/]+)/blob/([^/]+)/(.+)$`),
		build: func(m []string) RepoRef {
			return RepoRef{Owner: m[1], Repo: m[2], Branch: m[3], Path: decodePathSegments(m[4])}
		},
	},
	{
		// single file via the raw-content host
		pattern: regexp.MustCompile(`(?i)^https?://raw\.githubusercontent\.com/([^/]+)/([^/]+)/([^/]+)/(.+)$`),
		build: func(m []string) RepoRef {
			return RepoRef{Owner: m[1], Repo: m[2], Branch: m[3], Path: decodePathSegments(m[4])}
		},
	},
	{
		// directory with explicit branch ("tree" marker), optional sub-path
		pattern: regexp.MustCompile(`(?i)^https?://github\.com/([^/]+)/([^/]+)/tree/([^/]+)(?:/(.*))?$`),
		build: func(m []string) RepoRef {
			return RepoRef{Owner: m[1], Repo: m[2], Branch: m[3], Path: decodePathSegments(m[4])}
		},
	},
	{
		// bare repository root, branch unresolved
		pattern: regexp.MustCompile(`(?i)^https?://github\.com/([^/]+)/([^/]+)/?$`),
		build: func(m []string) RepoRef {
			return RepoRef{Owner: m[1], Repo: m[2]}
		},
	},
}

// ParseSubmissionURL normalizes a free-form submission URL into a RepoRef.
// It folds full-width look-alike characters to ASCII, rewrites the scp-like
// form, infers a missing scheme for recognized hosts, strips a trailing
// ".git", drops query/fragment, then tries the shape rules in priority
// order. The returned error wraps ErrUnsupportedURLShape or
// ErrUnrecognizedURL depending on whether the host itself was recognized.
func ParseSubmissionURL(raw string) (RepoRef, error) {
	s := strings.TrimSpace(foldWidth(raw))

	// scp-like syntax: host:owner/repo[.git]
	if strings.HasPrefix(s, scpPrefix) {
		ownerRepo := strings.TrimSuffix(s[len(scpPrefix):], gitSuffix)
		s = "https://" + webHost + "/" + ownerRepo
	} else if !strings.Contains(s, "://") {
		lower := strings.ToLower(s)
		switch {
		case strings.HasPrefix(lower, "www."+webHost+"/"):
			s = "https://" + s[len("www."):]
		case strings.HasPrefix(lower, webHost+"/"), strings.HasPrefix(lower, rawHost+"/"):
			s = "https://" + s
		}
	}

	u, err := url.Parse(s)
	if err != nil {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrUnrecognizedURL, raw)
	}

	scheme := strings.ToLower(u.Scheme)
	host := strings.ToLower(u.Host)
	if host == "www."+webHost {
		host = webHost
	}

	// Rebuild without query/fragment; EscapedPath keeps the original
	// percent-encoding intact for the shape match.
	clean := scheme + "://" + host + u.EscapedPath()
	clean = strings.TrimSuffix(clean, gitSuffix)

	for _, rule := range refRules {
		if m := rule.pattern.FindStringSubmatch(clean); m != nil {
			return rule.build(m), nil
		}
	}

	if strings.Contains(clean, webHost) || strings.Contains(clean, rawHost) {
		return RepoRef{}, fmt.Errorf("%w: %q", ErrUnsupportedURLShape, raw)
	}
	return RepoRef{}, fmt.Errorf("%w: %q", ErrUnrecognizedURL, raw)
}

const fullWidthOffset = 0xFEE0 // U+FF01..U+FF5E minus this lands on ASCII !..~

// foldWidth maps visually-confusable full-width characters (as produced by
// CJK input methods) to their canonical ASCII equivalents, so shapes like
// "ＨＴＴＰＳ：//" survive pattern matching.
func foldWidth(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 0xFF01 && r <= 0xFF5E:
			return r - fullWidthOffset
		case r == 0x3000: // ideographic space
			return ' '
		default:
			return r
		}
	}, s)
}

// decodePathSegments percent-decodes a path segment by segment, so literal
// slashes are never produced from encoded ones. Segments that fail to
// decode are kept as-is.
func decodePathSegments(p string) string {
	if p == "" {
		return ""
	}
	segs := strings.Split(p, "/")
	for i, seg := range segs {
		if dec, err := url.PathUnescape(seg); err == nil {
			segs[i] = dec
		}
	}
	return strings.Join(segs, "/")
}
