package cachekey

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMake(t *testing.T) {
	assert.Equal(t, "prayer:a:b", Make("prayer", "a", "b"))
	assert.Equal(t, "location:current", Make("location", "current"))
	assert.Equal(t, "library:documents:42", Make("library", "documents", int64(42)))
}

func TestMakeNoParts(t *testing.T) {
	assert.Equal(t, "geocode", Make("geocode"))
}

func TestMakeLocationPrecision(t *testing.T) {
	// Near-duplicate coordinates inside the same 4-decimal cell collapse
	// onto one key.
	a := MakeLocation("geocode", 1.23456, 2.34567)
	b := MakeLocation("geocode", 1.234564, 2.345674)
	assert.Equal(t, a, b)

	assert.Equal(t, "geocode:1.2346:2.3457", a)
}

func TestMakeLocationDistinctCells(t *testing.T) {
	a := MakeLocation("prayer", 1.2345, 2.3456)
	b := MakeLocation("prayer", 1.2346, 2.3456)
	assert.NotEqual(t, a, b)
}

func TestMakeLocationExtraParts(t *testing.T) {
	key := MakeLocation("prayer", 21.4225, 39.8262, "2024-01-01", "gps_fresh")
	assert.Equal(t, "prayer:21.4225:39.8262:2024-01-01:gps_fresh", key)
}

func TestPrefix(t *testing.T) {
	assert.Equal(t, "prayer:", Prefix("prayer"))
}
