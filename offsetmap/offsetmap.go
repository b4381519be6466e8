// Package offsetmap defines the interface to the native offset-map
// binary-layout library. Per spec §1 it is consumed as an opaque
// `get_pdu_size(type_name) -> int` collaborator; this module never
// generates or parses the binary offset files itself.
package offsetmap

import "os"

// OffsetMap answers the base wire size of a generated PDU type by name.
type OffsetMap interface {
	GetPduSize(typeName string) int
}

// staticMap is a trivial in-memory OffsetMap, useful for tests and for
// callers that already know their PDU type sizes without consulting the
// native offset-map library.
type staticMap map[string]int

func (m staticMap) GetPduSize(typeName string) int {
	if size, ok := m[typeName]; ok {
		return size
	}
	return -1
}

// NewStatic builds an OffsetMap from a fixed type-name -> size table.
func NewStatic(sizes map[string]int) OffsetMap {
	m := make(staticMap, len(sizes))
	for k, v := range sizes {
		m[k] = v
	}
	return m
}

// ResolveOffsetDir returns the offset-map directory: the HAKO_BINARY_PATH
// environment variable if set, otherwise the compiled-in default.
func ResolveOffsetDir(defaultPath string) string {
	if path := os.Getenv("HAKO_BINARY_PATH"); path != "" {
		return path
	}
	return defaultPath
}
