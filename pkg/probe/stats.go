package probe

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// ErrNoStats means the page returned no statistics object.
var ErrNoStats = errors.New("no statistics available")

// Stats is the subset of the conference statistics the probes read.
type Stats struct {
	Bitrate *BitrateStats `json:"bitrate"`
}

// BitrateStats holds the aggregate media rates in kbps.
type BitrateStats struct {
	Download *float64 `json:"download"`
	Upload   *float64 `json:"upload"`
}

// DecodeStats decodes a statistics payload. A null or empty payload returns
// ErrNoStats; a payload of the wrong shape returns a decode error.
func DecodeStats(raw json.RawMessage) (*Stats, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return nil, ErrNoStats
	}
	var stats Stats
	if err := json.Unmarshal(trimmed, &stats); err != nil {
		return nil, fmt.Errorf("decode stats: %w", err)
	}
	return &stats, nil
}

// DownloadBitrate returns the inbound rate and whether it was present.
func (s *Stats) DownloadBitrate() (float64, bool) {
	if s == nil || s.Bitrate == nil || s.Bitrate.Download == nil {
		return 0, false
	}
	return *s.Bitrate.Download, true
}
