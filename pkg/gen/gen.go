// Package gen derives stable identifiers.
package gen

import (
	"strings"

	"github.com/google/uuid"
)

const sep = "|"

// Namespace scopes every identifier derived by UUIDv5.
var Namespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://tubefetch.local/jobs"))

// Key joins parts with "|".
func Key(parts ...string) string {
	return strings.Join(parts, sep)
}

// UUIDv5 derives a name-based UUID from parts. Equal parts always give the same id.
func UUIDv5(parts ...string) string {
	return uuid.NewSHA1(Namespace, []byte(Key(parts...))).String()
}
