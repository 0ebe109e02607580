package rewrite

import (
	"net/url"
	"regexp"
	"strconv"
	"strings"
)

var (
	thumbWidthRe = regexp.MustCompile(`^(\d+)px-`)
	multRe       = regexp.MustCompile(`(\d+(?:\.\d+)?)x[.-]`)
)

// mediaInfo derives the archive filename plus the width and scale
// multiplier encoded in a media URL. Thumbnail URLs of the form
// .../thumb/a/a1/Foo.png/320px-Foo.png resolve to the original filename
// with width 320; plain upload URLs to their last path segment.
func mediaInfo(rawURL string) (base string, width int, mult float64, ok bool) {
	u, err := url.Parse(rawURL)
	if err != nil || u.Path == "" {
		return "", 0, 0, false
	}
	segments := strings.Split(strings.Trim(u.Path, "/"), "/")
	last := segments[len(segments)-1]
	mult = 1

	if i := indexOfSegment(segments, "thumb"); i >= 0 && len(segments) >= i+4 {
		base = segments[len(segments)-2]
		if m := thumbWidthRe.FindStringSubmatch(last); m != nil {
			width, _ = strconv.Atoi(m[1])
		}
	} else {
		base = last
	}
	if m := multRe.FindStringSubmatch(last); m != nil {
		if f, err := strconv.ParseFloat(m[1], 64); err == nil {
			mult = f
		}
	}

	decoded, err := url.PathUnescape(base)
	if err == nil {
		base = decoded
	}
	if base == "" {
		return "", 0, 0, false
	}
	return base, width, mult, true
}

func indexOfSegment(segments []string, want string) int {
	for i, s := range segments {
		if s == want {
			return i
		}
	}
	return -1
}

// relativeRoot returns the ../ chain that climbs from an article's location
// back to the archive root. An article id with no subpage separators sits
// one level deep (inside its namespace directory).
func relativeRoot(articleID string) string {
	return strings.Repeat("../", strings.Count(articleID, "/")+1)
}

// mediaPath returns the archive-relative src for a media file as seen from
// articleID.
func mediaPath(articleID, base string) string {
	return relativeRoot(articleID) + "I/" + EncodeArticleID(base)
}

// articlePath returns the href pointing from articleID to targetID, both in
// the article namespace.
func articlePath(articleID, targetID string) string {
	return strings.Repeat("../", strings.Count(articleID, "/")) + EncodeArticleID(targetID)
}

// EncodeArticleID percent-encodes an article id per path segment, so that
// subpage separators survive while every other reserved character is
// escaped. DecodeArticleID reverses it.
func EncodeArticleID(id string) string {
	segments := strings.Split(id, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return strings.Join(segments, "/")
}

// DecodeArticleID undoes EncodeArticleID.
func DecodeArticleID(id string) string {
	segments := strings.Split(id, "/")
	for i, s := range segments {
		if decoded, err := url.PathUnescape(s); err == nil {
			segments[i] = decoded
		}
	}
	return strings.Join(segments, "/")
}
