package xid

import (
	"strings"

	"github.com/oklog/ulid/v2"
)

// New returns a lexically sortable identifier such as "inv_01J9...".
func New(prefix string) string {
	id := strings.ToLower(ulid.Make().String())
	if prefix == "" {
		return id
	}
	return prefix + "_" + id
}
