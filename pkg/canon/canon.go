package canon

import (
	"net/url"
	"regexp"
	"strings"
)

// UnknownCode is returned by ExtractCode when no valid code can be recovered
// from the input. It satisfies the canonical code charset so downstream
// consumers never have to special-case it.
const UnknownCode = "UNKNOWN"

var (
	codePattern     = regexp.MustCompile(`^[A-Z0-9_-]+$`)
	fc2Pattern      = regexp.MustCompile(`(?i)^(FC2(?:-PPV)?-\d+)`)
	trailingJunk    = regexp.MustCompile(`[^A-Z0-9_-]+.*$`)
	codePathMarkers = []string{"video", "fc2ppv"}
)

// separators that terminate a code token inside a noisy path segment.
// Percent-encoded spaces are already decoded by the time we split.
var separators = []string{" ", "【", "［", "〈"}

// ExtractCode extracts the canonical content code from a scraped URL.
// It is total: any input yields either a valid code or UnknownCode,
// never an error.
func ExtractCode(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return UnknownCode
	}

	segment := codeSegment(u.Path)
	if segment == "" {
		return UnknownCode
	}

	if decoded, err := url.PathUnescape(segment); err == nil {
		segment = decoded
	}

	// FC2 uploads carry a provider-numeric code followed by a free-text
	// slug; the leading PREFIX-digits token is the whole code.
	if m := fc2Pattern.FindString(segment); m != "" {
		return strings.ToUpper(m)
	}

	token := segment
	for _, sep := range separators {
		if idx := strings.Index(token, sep); idx >= 0 {
			token = token[:idx]
		}
	}

	code := strings.ToUpper(strings.TrimSpace(token))
	if codePattern.MatchString(code) {
		return code
	}

	// Salvage pass: strip from the first character outside the code
	// charset to the end (handles codes glued to punctuation or
	// non-ASCII title slugs).
	code = trailingJunk.ReplaceAllString(code, "")
	if code != "" && codePattern.MatchString(code) {
		return code
	}

	return UnknownCode
}

// codeSegment returns the path segment that follows a known marker
// segment ("video", "fc2ppv"), or the last segment when no marker is
// present.
func codeSegment(path string) string {
	parts := strings.Split(strings.Trim(path, "/"), "/")
	for i, part := range parts {
		for _, marker := range codePathMarkers {
			if strings.EqualFold(part, marker) && i+1 < len(parts) {
				return parts[i+1]
			}
		}
	}
	if len(parts) > 0 && parts[len(parts)-1] != "" {
		return parts[len(parts)-1]
	}
	return ""
}

// NormalizeURL canonicalizes a URL for equality comparison only; the
// result is never stored. Scheme is forced to https, a leading "www."
// host label, query string, fragment and a single trailing slash are
// dropped, and the whole value is lowercased.
func NormalizeURL(rawURL string) string {
	s := strings.ToLower(strings.TrimSpace(rawURL))

	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		// Not parseable as an absolute URL; fall back to plain string
		// normalization so the function stays total.
		s = strings.TrimPrefix(s, "http://")
		s = strings.TrimPrefix(s, "https://")
		s = strings.TrimPrefix(s, "www.")
		if idx := strings.IndexAny(s, "?#"); idx >= 0 {
			s = s[:idx]
		}
		return "https://" + strings.TrimSuffix(s, "/")
	}

	u.Scheme = "https"
	u.Host = strings.TrimPrefix(u.Host, "www.")
	u.RawQuery = ""
	u.Fragment = ""
	u.Path = strings.TrimSuffix(u.Path, "/")

	return u.String()
}
