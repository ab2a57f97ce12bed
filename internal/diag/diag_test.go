package diag

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/marte-community/register-dev-tools/internal/tree"
)

func TestErrorFormatting(t *testing.T) {
	e := New(Parse, "Bar.children.Foo.type", tree.Position{File: "m.yaml", Line: 4, Column: 7}, "unknown object type %q", "regster").
		WithSuggestion(Suggest("regster", []string{"block", "register", "command"}))
	assert.Equal(t, `parse error at Bar.children.Foo.type (m.yaml:4:7): unknown object type "regster". Did you mean 'register'?`, e.Error())
}

func TestIsMatchesWrappedAndListed(t *testing.T) {
	e := New(Resolution, "A", tree.Position{}, "cycle")
	wrapped := fmt.Errorf("compile: %w", e)
	assert.True(t, Is(wrapped, Resolution))
	assert.False(t, Is(wrapped, Parse))

	var l List
	l.Add(New(Validation, "X", tree.Position{}, "overlap"))
	l.Append(errors.New("plain"), IO)
	assert.True(t, Is(l.Err(), Validation))
	assert.True(t, Is(l.Err(), IO))
	assert.Len(t, Flatten(l.Err()), 2)
	assert.Contains(t, l.Error(), "2 errors")
}

func TestEmptyListErrIsNil(t *testing.T) {
	var l List
	assert.NoError(t, l.Err())
}

func TestSuggest(t *testing.T) {
	keys := []string{"register_address_type", "default_byte_order"}
	assert.Equal(t, "Did you mean 'default_byte_order'?", Suggest("default_byteorder", keys))
	assert.Empty(t, Suggest("completely_different", keys))
}
