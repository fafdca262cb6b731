// Package runid generates and validates docbot run identifiers:
// YYYYMMDDTHHMMSSZ_<6 lowercase hex>.
package runid

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"regexp"
	"time"
)

var pattern = regexp.MustCompile(`^\d{8}T\d{6}Z_[0-9a-f]{6}$`)

// New returns a fresh run id stamped at the given UTC time.
func New(now time.Time) (string, error) {
	suffix := make([]byte, 3)
	if _, err := rand.Read(suffix); err != nil {
		return "", fmt.Errorf("generate run id suffix: %w", err)
	}
	return fmt.Sprintf("%s_%s", now.UTC().Format("20060102T150405Z"), hex.EncodeToString(suffix)), nil
}

// Valid reports whether s has the documented run id shape.
func Valid(s string) bool { return pattern.MatchString(s) }
