package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKey(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want string
	}{
		{"empty", "", ""},
		{"whitespace only", "   ", ""},
		{"plain", "Nippani", "nippani"},
		{"census prefix", "Sub-District - Nippani", "nippani"},
		{"last dash segment wins", "State - Karnataka - District - Belgaum", "belgaum"},
		{"reservation qualifier", "Kudachi (SC)", "kudachi"},
		{"qualifier mid string", "Hubli (Urban) Dharwad", "hublidharwad"},
		{"punctuation collapses", "C.V. Raman Nagar", "cvramannagar"},
		{"hyphen collapses", "Hubli-Dharwad-Central", "hublidharwadcentral"},
		{"taluk suffix", "Athni Taluk", "athni"},
		{"taluka suffix", "Athni Taluka", "athni"},
		{"tq suffix with dot", "Athni Tq.", "athni"},
		{"stacked suffixes", "Foo Tal Taluk", "foo"},
		{"suffix alone kept", "Tal", "tal"},
		{"accents folded", "Bāgalkot", "bagalkot"},
		{"digits kept", "Bangalore Ward 12", "bangaloreward12"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Key(tt.raw))
		})
	}
}

func TestKey_Idempotent(t *testing.T) {
	inputs := []string{
		"Sub-District - Nippani",
		"Kudachi (SC)",
		"Foo Tal Taluk",
		"taltaluk",
		"Raybag (SC) Tq.",
		"B.T.M.Layout",
		"Bāgalkot",
		"tq",
		"",
	}
	for _, in := range inputs {
		once := Key(in)
		assert.Equal(t, once, Key(once), "input %q", in)
	}
}

func TestKey_PrefixedEqualsPlain(t *testing.T) {
	assert.Equal(t, Key("nippani"), Key("Sub-District - Nippani"))
}

func TestNormalizer_CustomSuffixes(t *testing.T) {
	n := New([]string{"Mandal", "Tq."})
	assert.Equal(t, "kurnool", n.Key("Kurnool Mandal"))
	assert.Equal(t, "athnitaluk", n.Key("Athni Taluk"))
	assert.Equal(t, "athni", n.Key("Athni Tq"))

	none := New(nil)
	assert.Equal(t, "athnitaluk", none.Key("Athni Taluk"))

	var zero Normalizer
	assert.Equal(t, "athni", zero.Key("Athni Taluk"))
}

func TestText(t *testing.T) {
	assert.Equal(t, "Bengaluru Urban (North)", Text("  Bengaluru   Urban\t(North) "))
	assert.Equal(t, "", Text("  "))
}
