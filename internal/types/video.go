package types

import (
	"regexp"
	"strings"
)

// VideoMimeType is the provider file-reference mime type for video links.
const VideoMimeType = "video/youtube"

var (
	videoHostRe = regexp.MustCompile(`^(https?://)?(www\.)?(youtube\.com|youtu\.?be)/.+$`)
	videoLinkRe = regexp.MustCompile(`(https?://)?(www\.)?(youtube\.com/watch\?v=|youtu\.be/)[a-zA-Z0-9_-]{11}`)
)

// IsVideoURL reports whether url points at a known video host.
func IsVideoURL(url string) bool {
	return url != "" && videoHostRe.MatchString(url)
}

// VideoID extracts the video identifier from a video-host URL.
// Returns "" if the URL carries no recognizable id.
func VideoID(url string) string {
	switch {
	case strings.Contains(url, "youtube.com/watch?v="):
		id := strings.SplitN(url, "v=", 2)[1]
		return strings.SplitN(id, "&", 2)[0]
	case strings.Contains(url, "youtu.be/"):
		id := strings.SplitN(url, "youtu.be/", 2)[1]
		return strings.SplitN(id, "?", 2)[0]
	}
	return ""
}

// CanonicalVideoURI normalizes any recognized video URL to the canonical
// watch form the provider accepts as a file reference.
func CanonicalVideoURI(url string) string {
	id := VideoID(url)
	if id == "" {
		return ""
	}
	return "https://www.youtube.com/watch?v=" + id
}

// FindVideoLink returns the first video link embedded in free text and its
// position, or "" if none.
func FindVideoLink(text string) string {
	return videoLinkRe.FindString(text)
}
