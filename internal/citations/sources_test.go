package citations

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSourceList_AddDeduplicates(t *testing.T) {
	s := NewSourceList()
	assert.Equal(t, 1, s.Add("[A](https://a)"))
	assert.Equal(t, 2, s.Add("[B](https://b)"))
	assert.Equal(t, 1, s.Add("[A](https://a)"))
	assert.Equal(t, 2, s.Len())

	pos, ok := s.Position("[B](https://b)")
	assert.True(t, ok)
	assert.Equal(t, 2, pos)
	_, ok = s.Position("[C](https://c)")
	assert.False(t, ok)
}

func TestSourceList_IdentityIsRenderedString(t *testing.T) {
	s := NewSourceList()
	s.Add("[Home](https://a)")
	s.Add("[Homepage](https://a)")
	assert.Equal(t, 2, s.Len())
}

func TestSourceList_Cite(t *testing.T) {
	s := NewSourceList()
	s.Add("[A](a)")
	s.Add("[B](b)")

	tests := []struct {
		name  string
		field string
		want  string
	}{
		{"single existing", "[B](b)", "[2]"},
		{"new and existing", "[A](a), [C](c)", "[1], [3]"},
		{"empty field", "", ""},
		{"raw link", "foo", "[foo]"},
		{"markdown links only are indexed", "bar, [B](b)", "[2]"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, s.Cite(tt.field).String())
		})
	}
	assert.Equal(t, []string{"[A](a)", "[B](b)", "[C](c)", "foo", "bar"}, s.Entries())
}

func TestSourceList_Render(t *testing.T) {
	s := NewSourceList()
	assert.Equal(t, "", s.Render())

	s.Add("[NASA](https://nasa.gov)")
	s.Add("[ESA](https://esa.int)")
	assert.Equal(t, "\nSources:\n1. [NASA](https://nasa.gov)\n2. [ESA](https://esa.int)\n", s.Render())
}

func TestSourceList_EntriesIsCopy(t *testing.T) {
	s := NewSourceList()
	s.Add("[A](a)")
	entries := s.Entries()
	entries[0] = "mutated"
	assert.Equal(t, []string{"[A](a)"}, s.Entries())
}
