package session

import (
	cryptorand "crypto/rand"
	"fmt"
	"net/url"
	"path"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	sessionNameSanitizer = regexp.MustCompile(`[^a-zA-Z0-9\-]`)
	ulidEntropy          = ulid.Monotonic(cryptorand.Reader, 0)
	ulidMu               sync.Mutex
)

// NewRunID returns a lowercase, time-ordered run identifier.
func NewRunID() string {
	return newULID(time.Now())
}

func newULID(at time.Time) string {
	ulidMu.Lock()
	defer ulidMu.Unlock()
	return strings.ToLower(ulid.MustNew(ulid.Timestamp(at), ulidEntropy).String())
}

// RoomName returns the conference room named by a meeting URL: the last
// path segment, or "" when there is none.
func RoomName(meetingURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(meetingURL))
	if err != nil {
		return ""
	}
	room := path.Base(strings.TrimRight(parsed.Path, "/"))
	if room == "." || room == "/" {
		return ""
	}
	return room
}

// GenerateSessionID returns a browser session id derived from the room
// name and the run id.
func GenerateSessionID(meetingURL, runID string) string {
	base := strings.ToLower(strings.ReplaceAll(RoomName(meetingURL), " ", "-"))
	base = sessionNameSanitizer.ReplaceAllString(base, "-")
	base = strings.Trim(base, "-")
	if base == "" {
		base = "meet"
	}
	if runID == "" {
		runID = NewRunID()
	}
	return fmt.Sprintf("%s-%s", base, runID)
}
