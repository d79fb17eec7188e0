// Package memory defines the entry and state types shared by every stage of
// the pipeline.
package memory

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// DateLayout is the timestamp format used by the export document
const DateLayout = "2006-01-02 15:04:05 MST"

// MediaType is the catalog's declared kind of memory
type MediaType int

const (
	Image MediaType = iota
	Video
)

func (m MediaType) String() string {
	if m == Video {
		return "Video"
	}
	return "Image"
}

// Ext is the extension used for a direct (non-archive) download
func (m MediaType) Ext() string {
	if m == Video {
		return "mp4"
	}
	return "jpg"
}

// ParseMediaType maps the catalog's free-text type column
func ParseMediaType(s string) (MediaType, bool) {
	switch {
	case strings.Contains(strings.ToLower(s), "video"):
		return Video, true
	case strings.Contains(strings.ToLower(s), "image"):
		return Image, true
	default:
		return Image, false
	}
}

// Entry is one memory to retrieve. It is never mutated after the catalog
// produces it.
type Entry struct {
	ID        string
	Index     int // 1-based position in the export
	Date      time.Time
	RawDate   string
	MediaType MediaType
	URL       string
	Location  string
}

// HasDate reports whether the export's timestamp parsed
func (e Entry) HasDate() bool {
	return !e.Date.IsZero()
}

// IDFromURL derives a stable entry identifier from a download link: the
// "mid" query parameter, then "sid", then a hash of the whole URL.
func IDFromURL(raw string) string {
	if u, err := url.Parse(raw); err == nil {
		q := u.Query()
		for _, key := range []string{"mid", "sid"} {
			if v := sanitizeID(q.Get(key)); v != "" {
				return v
			}
		}
	}
	sum := sha1.Sum([]byte(raw))
	return hex.EncodeToString(sum[:])[:16]
}

func sanitizeID(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			b.WriteRune(r)
		}
	}
	return b.String()
}

// State is the per-entry processing state
type State int

const (
	Pending State = iota
	Downloading
	Extracted
	Merged
	Failed
	Skipped
)

var stateNames = map[State]string{
	Pending:     "pending",
	Downloading: "downloading",
	Extracted:   "extracted",
	Merged:      "merged",
	Failed:      "failed",
	Skipped:     "skipped",
}

func (s State) String() string {
	if n, ok := stateNames[s]; ok {
		return n
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible
func (s State) Terminal() bool {
	return s == Merged || s == Failed || s == Skipped
}

var transitions = map[State][]State{
	Pending:     {Downloading, Skipped},
	Downloading: {Extracted, Failed},
	Extracted:   {Merged, Failed, Skipped},
}

// Advance returns next if it is a legal forward transition from s
func (s State) Advance(next State) (State, error) {
	for _, allowed := range transitions[s] {
		if allowed == next {
			return next, nil
		}
	}
	return s, fmt.Errorf("illegal state transition %s -> %s", s, next)
}
