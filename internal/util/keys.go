package util

import (
	"strings"
)

// EntryKey is the provider key for one id of an entity.
func EntryKey(entity, id string) string {
	return "entry:" + entity + ":" + id
}

// DocumentKey is the provider key holding a whole entity.
func DocumentKey(entity string) string {
	return "doc:" + entity
}

// IsPathElement reports whether id can be used verbatim as a single file name
// inside a directory: non-empty, no separators, no NUL, not "." or "..".
func IsPathElement(id string) bool {
	if id == "" || id == "." || id == ".." {
		return false
	}
	return !strings.ContainsAny(id, "/\\\x00")
}
