package webdav

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseIfHeader(t *testing.T) {
	tests := []struct {
		name     string
		value    string
		expected *IfHeader
	}{
		{
			name:  "no-tag list",
			value: "(<opaquelocktoken:a>)",
			expected: &IfHeader{Lists: []IfList{
				{Conditions: []Condition{{Token: "opaquelocktoken:a"}}},
			}},
		},
		{
			name:  "tagged list with etag",
			value: `</col/a> (<opaquelocktoken:a> ["etag"])`,
			expected: &IfHeader{Lists: []IfList{
				{ResourceTag: "/col/a", Conditions: []Condition{
					{Token: "opaquelocktoken:a"},
					{ETag: `"etag"`},
				}},
			}},
		},
		{
			name:  "not condition and multiple lists",
			value: "(Not <opaquelocktoken:a>) (<opaquelocktoken:b>)",
			expected: &IfHeader{Lists: []IfList{
				{Conditions: []Condition{{Token: "opaquelocktoken:a", Not: true}}},
				{Conditions: []Condition{{Token: "opaquelocktoken:b"}}},
			}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h, err := ParseIfHeader(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, h)
		})
	}
}

func TestParseIfHeader_Invalid(t *testing.T) {
	for _, value := range []string{"", "   ", "(<a>", "<uri>", "()", "token", "(<a> junk)"} {
		_, err := ParseIfHeader(value)
		assert.Error(t, err, value)
	}
}

func TestIfHeader_Tokens(t *testing.T) {
	h, err := ParseIfHeader("(Not <opaquelocktoken:a>) (<opaquelocktoken:b> [\"e\"])")
	require.NoError(t, err)

	assert.Equal(t, []string{"opaquelocktoken:b"}, h.Tokens())
	assert.True(t, h.HasToken("<opaquelocktoken:b>"))
	assert.False(t, h.HasToken("opaquelocktoken:a"))

	var missing *IfHeader
	assert.Nil(t, missing.Tokens())
	assert.False(t, missing.HasToken("opaquelocktoken:b"))
}

func TestParseTimeout(t *testing.T) {
	tests := []struct {
		value    string
		expected time.Duration
	}{
		{value: "Second-3600", expected: time.Hour},
		{value: "second-10", expected: 10 * time.Second},
		{value: "Infinite", expected: InfiniteTimeout},
		{value: "Infinite, Second-60", expected: InfiniteTimeout},
		{value: "Second-abc, Second-60", expected: time.Minute},
	}
	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			d, err := ParseTimeout(tt.value)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, d)
		})
	}

	for _, value := range []string{"", "Second-0", "Second--5", "Minutes-3"} {
		_, err := ParseTimeout(value)
		assert.Error(t, err, value)
	}
}

func TestFormatTimeout(t *testing.T) {
	assert.Equal(t, "Second-3600", FormatTimeout(time.Hour))
	assert.Equal(t, "Infinite", FormatTimeout(InfiniteTimeout))
}

func TestPathHelpers(t *testing.T) {
	assert.Equal(t, "/", CleanPath(""))
	assert.Equal(t, "/a/b", CleanPath("a//b/"))
	assert.Equal(t, "/a", ParentPath("/a/b"))
	assert.Equal(t, "/", ParentPath("/a"))
	assert.Equal(t, "", ParentPath("/"))

	assert.True(t, IsDescendant("/a", "/a/b/c"))
	assert.True(t, IsDescendant("/", "/a"))
	assert.False(t, IsDescendant("/a", "/a"))
	assert.False(t, IsDescendant("/a", "/ab"))
}
