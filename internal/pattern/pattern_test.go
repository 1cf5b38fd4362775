package pattern

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSet_EmptyMatchesEverything(t *testing.T) {
	s, errs := Compile("host", nil)
	require.Empty(t, errs)

	assert.True(t, s.Empty())
	assert.True(t, s.Matches("anything"))
	assert.True(t, s.Matches(""))

	var nilSet *Set
	assert.True(t, nilSet.Matches("x"))
}

func TestSet_FullStringMatch(t *testing.T) {
	s := MustCompile("host", "host1", `api\..*\.example\.com`)

	tests := []struct {
		value string
		want  bool
	}{
		{"host1", true},
		{"host10", false},
		{"myhost1", false},
		{"api.eu.example.com", true},
		{"api.eu.example.com.evil", false},
		{"", false},
	}

	for _, tt := range tests {
		t.Run(tt.value, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Matches(tt.value))
		})
	}
}

func TestSet_AlternationIsAnchored(t *testing.T) {
	s := MustCompile("path", "/a|/b")
	assert.True(t, s.Matches("/a"))
	assert.True(t, s.Matches("/b"))
	assert.False(t, s.Matches("/a/b"))
	assert.False(t, s.Matches("x/b"))
}

func TestCompile_InvalidPatternReportedAndExcluded(t *testing.T) {
	s, errs := Compile("host", []string{"good", "(unclosed", "  "})

	require.Len(t, errs, 1)
	var invalid *InvalidPatternError
	require.True(t, errors.As(errs[0], &invalid))
	assert.Equal(t, "(unclosed", invalid.Pattern)
	assert.Equal(t, "host", invalid.Set)
	assert.Contains(t, errs[0].Error(), "invalid host pattern")

	assert.Equal(t, []string{"good"}, s.Patterns())
}

func TestCompile_RejectsPatternValidOnlyWhenWrapped(t *testing.T) {
	s, errs := Compile("host", []string{"a)(b"})
	require.Len(t, errs, 1)
	assert.True(t, s.Empty())
}

func TestMustCompile_Panics(t *testing.T) {
	assert.Panics(t, func() { MustCompile("path", "[") })
}

func TestLiterals(t *testing.T) {
	empty := NewLiterals(nil)
	assert.True(t, empty.Empty())
	assert.True(t, empty.Matches(""))
	assert.True(t, empty.Matches("u2"))

	l := NewLiterals([]string{"u1", "u1", " ", "urn:svc:orders"})
	assert.Equal(t, []string{"u1", "urn:svc:orders"}, l.Values())
	assert.True(t, l.Matches("u1"))
	assert.False(t, l.Matches("u2"))
	assert.False(t, l.Matches(""))
	assert.False(t, l.Matches("u.*"), "literals are never treated as patterns")
}
