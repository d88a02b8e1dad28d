// Package cachekey derives deterministic cache keys from a namespace and
// free-form parts. Keys are plain colon-joined strings so they stay readable
// in store dumps and namespace invalidation reduces to a prefix match.
package cachekey

import (
	"fmt"
	"strconv"
	"strings"
)

// Namespaces used across the service. Invalidation is prefix-based, so each
// data kind gets its own namespace.
const (
	NamespacePrayer   = "prayer"
	NamespaceGeocode  = "geocode"
	NamespaceLocation = "location"
	NamespaceLibrary  = "library"
)

// CoordinatePrecision is the number of decimals coordinates are rounded to
// before they enter a key. Four decimals is roughly an 11 m cell, which is
// plenty for prayer times and geocoding while collapsing GPS jitter onto a
// single key. Changing this constant orphans every location-scoped entry
// already persisted, so treat it as frozen.
const CoordinatePrecision = 4

// Make joins a namespace and string-coerced parts with ':'.
// Parts are not escaped: a part containing ':' shifts the remaining
// segments and can collide with a differently-split key. Callers own
// keeping ':' out of their parts.
func Make(namespace string, parts ...any) string {
	var b strings.Builder
	b.WriteString(namespace)
	for _, p := range parts {
		b.WriteByte(':')
		b.WriteString(coerce(p))
	}
	return b.String()
}

// MakeLocation builds a location-scoped key with lat/lon rounded to
// CoordinatePrecision, then any extra parts.
func MakeLocation(namespace string, lat, lon float64, extra ...any) string {
	parts := make([]any, 0, len(extra)+2)
	parts = append(parts, FormatCoordinate(lat), FormatCoordinate(lon))
	parts = append(parts, extra...)
	return Make(namespace, parts...)
}

// Prefix returns the invalidation prefix for a namespace.
func Prefix(namespace string) string {
	return namespace + ":"
}

// FormatCoordinate renders a coordinate at the module-wide precision.
func FormatCoordinate(v float64) string {
	return strconv.FormatFloat(v, 'f', CoordinatePrecision, 64)
}

func coerce(p any) string {
	switch v := p.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case int:
		return strconv.Itoa(v)
	case int64:
		return strconv.FormatInt(v, 10)
	default:
		return fmt.Sprintf("%v", v)
	}
}
