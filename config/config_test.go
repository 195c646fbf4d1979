package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestStringReturnsTrimmedValueOrDefault(t *testing.T) {
	src := MapSource{"FOO": "  bar  "}
	assert.Equal(t, "bar", String(src, "FOO", "default"))
	assert.Equal(t, "default", String(src, "MISSING", "default"))
	assert.Equal(t, "default", String(MapSource{"BLANK": "   "}, "BLANK", "default"))
}

func TestBoolParsesOrFallsBackToDefault(t *testing.T) {
	src := MapSource{"ON": "true", "OFF": "false", "BAD": "nope"}
	assert.True(t, Bool(src, "ON", false))
	assert.False(t, Bool(src, "OFF", true))
	assert.True(t, Bool(src, "BAD", true))
	assert.False(t, Bool(src, "MISSING", false))
}

func TestIntParsesOrFallsBackToDefault(t *testing.T) {
	src := MapSource{"N": "42", "BAD": "nan"}
	assert.Equal(t, 42, Int(src, "N", 0))
	assert.Equal(t, 7, Int(src, "BAD", 7))
	assert.Equal(t, 7, Int(src, "MISSING", 7))
}

func TestInt64ParsesOrFallsBackToDefault(t *testing.T) {
	src := MapSource{"N": "9999999999"}
	assert.Equal(t, int64(9999999999), Int64(src, "N", 0))
	assert.Equal(t, int64(1), Int64(src, "MISSING", 1))
}

func TestDurationParsesOrFallsBackToDefault(t *testing.T) {
	src := MapSource{"D": "500ms", "BAD": "soon"}
	assert.Equal(t, 500*time.Millisecond, Duration(src, "D", time.Second))
	assert.Equal(t, time.Second, Duration(src, "BAD", time.Second))
	assert.Equal(t, time.Second, Duration(src, "MISSING", time.Second))
}

func TestCSVSplitsTrimsAndDropsEmpty(t *testing.T) {
	src := MapSource{"LIST": " a, b ,,c"}
	assert.Equal(t, []string{"a", "b", "c"}, CSV(src, "LIST", nil))
	assert.Equal(t, []string{"x"}, CSV(src, "MISSING", []string{"x"}))
}

func TestByteSizeParsesSuffixes(t *testing.T) {
	src := MapSource{"K": "2K", "M": "3M", "G": "1G", "RAW": "512"}
	v, err := ByteSize(src, "K", 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(2<<10), v)

	v, err = ByteSize(src, "M", 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(3<<20), v)

	v, err = ByteSize(src, "G", 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(1<<30), v)

	v, err = ByteSize(src, "RAW", 0)
	assert.NoError(t, err)
	assert.Equal(t, int64(512), v)
}

func TestByteSizeReturnsErrorOnGarbage(t *testing.T) {
	src := MapSource{"BAD": "not-a-size"}
	_, err := ByteSize(src, "BAD", 0)
	assert.Error(t, err)
}

func TestEnvSourceDelegatesToLookupFunc(t *testing.T) {
	src := NewEnvSource(func(key string) (string, bool) {
		if key == "FOO" {
			return "bar", true
		}
		return "", false
	})
	assert.Equal(t, "bar", String(src, "FOO", "default"))
	assert.Equal(t, "default", String(src, "MISSING", "default"))
}
