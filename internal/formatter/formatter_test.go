package formatter

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/marte-community/register-dev-tools/internal/parser"
	"github.com/marte-community/register-dev-tools/internal/project"
)

func format(t *testing.T, src string) string {
	t.Helper()
	out, err := Source("m.rdl", []byte(src))
	require.NoError(t, err)
	return string(out)
}

func TestFormatCanonicalLayout(t *testing.T) {
	src := `//header
A={type=register   address=0x10 size_bits=8 // trailing
fields={f={base=bool start=0}}}


B = { type = buffer, address = 4 }
`
	want := `// header
A = {
    type = register
    address = 0x10
    size_bits = 8 // trailing
    fields = { f = { base = bool start = 0 } }
}

B = { type = buffer address = 4 }
`
	assert.Equal(t, want, format(t, src))
}

func TestFormatKeepsCommentsInBlocks(t *testing.T) {
	src := `R = {
  //# Doc for address
  address = 1
  fields = { // per field
     a = { base = uint start = 0 end = 4 }
     // dangling
  }
}
// trailing file comment
`
	want := `R = {
    //# Doc for address
    address = 1
    fields = { // per field
        a = { base = uint start = 0 end = 4 }
        // dangling
    }
}
// trailing file comment
`
	assert.Equal(t, want, format(t, src))
}

func TestFormatQuotesWhatWouldNotLexBack(t *testing.T) {
	src := `A = { d = "a b" name = "true" id = "1abc" path = Bar/Foo "odd key" = null n = -3 seq = { 1, 2, 3 } }`
	want := `A = { d = "a b" name = "true" id = "1abc" path = Bar/Foo "odd key" = null n = -3 seq = { 1 2 3 } }` + "\n"
	got := format(t, src)
	assert.Equal(t, want, got)

	// The output must parse to the same tree.
	before, err := parser.ParseBytes("a.rdl", []byte(src), parser.FormatRDL)
	require.NoError(t, err)
	after, err := parser.ParseBytes("b.rdl", []byte(got), parser.FormatRDL)
	require.NoError(t, err)
	b1, _ := before.MarshalJSON()
	b2, _ := after.MarshalJSON()
	assert.Equal(t, string(b1), string(b2))
}

func TestFormatBreaksLongLines(t *testing.T) {
	src := `E = { type = enum bits = 4 variants = { Alpha = 0 Bravo = 1 Charlie = 2 Delta = 3 Echo = 4 Foxtrot = 5 Golf = 6 Hotel = 7 India = 8 Juliet = 9 Kilo = 10 } }`
	want := `E = {
    type = enum
    bits = 4
    variants = {
        Alpha = 0
        Bravo = 1
        Charlie = 2
        Delta = 3
        Echo = 4
        Foxtrot = 5
        Golf = 6
        Hotel = 7
        India = 8
        Juliet = 9
        Kilo = 10
    }
}
`
	assert.Equal(t, want, format(t, src))
}

func TestFormatIsIdempotent(t *testing.T) {
	assert.Equal(t, project.Sample, format(t, project.Sample))

	once := format(t, "X = {a=1\n b = { 1 2 }\n\n\n c = d }")
	assert.Equal(t, once, format(t, once))
}

func TestFormatSyntaxError(t *testing.T) {
	_, err := Source("m.rdl", []byte("A = {"))
	assert.Error(t, err)
}
