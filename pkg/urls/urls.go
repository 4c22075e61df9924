// Package urls provides utility functions for working with URLs.
package urls

import (
	"net/url"
	"strings"
)

const (
	schemeHTTP  = "http"
	schemeHTTPS = "https"
)

// trackingParams are query keys that never change what a source resolves to.
var trackingParams = map[string]struct{}{
	"si":     {},
	"fbclid": {},
	"gclid":  {},
}

// youtubeVideoParams only select a start time or playlist position on a YouTube video link.
var youtubeVideoParams = map[string]struct{}{
	"feature": {},
	"pp":      {},
	"t":       {},
	"list":    {},
	"index":   {},
}

var youtubeHosts = map[string]struct{}{
	"youtube.com":       {},
	"m.youtube.com":     {},
	"music.youtube.com": {},
}

// IsURLValid checks if the given URL is valid.
func IsURLValid(raw string) bool {
	u, err := url.Parse(raw)

	return err == nil && u.Scheme != "" && u.Host != "" && (u.Scheme == schemeHTTP || u.Scheme == schemeHTTPS)
}

// FixURL prepends https scheme to URL.
// Example: youtube.com/watch?v=x => https://youtube.com/watch?v=x
func FixURL(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.Contains(raw, "://") {
		return raw
	}

	return schemeHTTPS + "://" + raw
}

// Normalize trims spaces, parses and returns the URL in string format.
func Normalize(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}

	return u.String()
}

// SourceKey returns a stable identity for a source URL: the fragment and
// tracking parameters are dropped, the host is lower-cased and the remaining
// query is sorted. Unparseable input is returned trimmed.
func SourceKey(raw string) string {
	raw = strings.TrimSpace(raw)

	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}

	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.TrimPrefix(strings.ToLower(u.Host), "www.")
	u.Fragment = ""
	u.RawFragment = ""

	video := isYouTubeVideo(u)

	query := u.Query()
	for key := range query {
		_, drop := trackingParams[key]
		if _, ok := youtubeVideoParams[key]; ok && video {
			drop = true
		}

		if drop || strings.HasPrefix(key, "utm_") {
			query.Del(key)
		}
	}

	// Encode sorts by key.
	u.RawQuery = query.Encode()

	return u.String()
}

// isYouTubeVideo reports whether u points at a single YouTube video.
// Playlist pages are not videos: their list parameter is the source.
func isYouTubeVideo(u *url.URL) bool {
	if u.Host == "youtu.be" {
		return true
	}

	if _, ok := youtubeHosts[u.Host]; !ok {
		return false
	}

	return u.Path == "/watch" || strings.HasPrefix(u.Path, "/shorts/") || strings.HasPrefix(u.Path, "/live/")
}

// Host returns the lower-cased host of raw without a leading "www.".
func Host(raw string) string {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return ""
	}

	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}
