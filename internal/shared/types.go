package shared

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix followed by 32 hex characters.
func NewID(prefix string) string {
	return prefix + strings.ReplaceAll(uuid.NewString(), "-", "")
}
