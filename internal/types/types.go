// README: Identifier and location value objects used across modules.
package types

import (
	"strings"

	"github.com/google/uuid"
)

type ID string

func NewID() ID {
	return ID(uuid.NewString())
}

// ValidID reports whether v parses as a UUID.
func ValidID(v string) bool {
	_, err := uuid.Parse(v)
	return err == nil
}

// Location is an administrative address: region (state) and sub-region (LGA).
type Location struct {
	Region    string `json:"region"`
	SubRegion string `json:"sub_region,omitempty"`
	Address   string `json:"address,omitempty"`
}

// SameRegion compares regions ignoring case and surrounding whitespace.
func SameRegion(a, b string) bool {
	return normalize(a) != "" && normalize(a) == normalize(b)
}

func normalize(v string) string {
	return strings.ToLower(strings.TrimSpace(v))
}
