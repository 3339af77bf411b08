// Package assetproxy encodes upstream asset URLs into opaque proxy path
// segments so that clients fetch images and videos through the gateway
// instead of hitting the upstream CDN with their own credentials.
package assetproxy

import (
	"encoding/base64"
	"net/url"
	"strings"
)

const (
	prefixURL  = "u_"
	prefixPath = "p_"
)

// Encode turns a raw asset reference into an opaque proxy segment.
// Absolute URLs are encoded whole under "u_"; everything else is treated as
// an upstream-relative path (a leading "/" is ensured) under "p_".
// The encoding is total and deterministic; Decode is its inverse.
func Encode(raw string) string {
	if isAbsoluteURL(raw) {
		return prefixURL + base64.RawURLEncoding.EncodeToString([]byte(raw))
	}
	if !strings.HasPrefix(raw, "/") {
		raw = "/" + raw
	}
	return prefixPath + base64.RawURLEncoding.EncodeToString([]byte(raw))
}

// Decode reverses Encode. The second return reports whether the segment was
// a full URL ("u_") as opposed to an upstream-relative path ("p_").
func Decode(segment string) (value string, isURL bool, ok bool) {
	var payload string
	switch {
	case strings.HasPrefix(segment, prefixURL):
		payload = segment[len(prefixURL):]
		isURL = true
	case strings.HasPrefix(segment, prefixPath):
		payload = segment[len(prefixPath):]
	default:
		return "", false, false
	}
	// Tolerate padded input from hand-built links.
	payload = strings.TrimRight(payload, "=")
	b, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil {
		return "", false, false
	}
	return string(b), isURL, true
}

// ProxyImageURL builds the client-facing proxy URL for a raw asset reference.
func ProxyImageURL(base, raw string) string {
	return strings.TrimRight(base, "/") + "/images/" + Encode(raw)
}

// Normalize filters a list of raw asset values down to usable references.
// Dropped: non-strings, empty or whitespace-only values, a bare "/", and
// absolute URLs whose path is "/" with no query or fragment.
func Normalize(values []any) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		s, isStr := v.(string)
		if !isStr {
			continue
		}
		if strings.TrimSpace(s) == "" || s == "/" {
			continue
		}
		if u, err := url.Parse(s); err == nil && u.IsAbs() && u.Host != "" {
			if (u.Path == "" || u.Path == "/") && u.RawQuery == "" && u.Fragment == "" {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

func isAbsoluteURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && u.IsAbs() && u.Host != ""
}
