package symbol

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidate(t *testing.T) {
	ok := map[string]string{
		"aapl":   "AAPL",
		" tsla ": "TSLA",
		"brk/b":  "BRK.B",
		"BRK-A":  "BRK.A",
	}
	for in, want := range ok {
		got, err := Validate(in)
		assert.NoError(t, err, in)
		assert.Equal(t, want, got)
	}

	for _, bad := range []string{"", "1ABC", "AA$", ".A", "A.", "A.B.C", "ABCDEFGHIJK"} {
		_, err := Validate(bad)
		assert.Error(t, err, bad)
	}
}

func TestBroker(t *testing.T) {
	assert.Equal(t, "BRK/B", Broker("brk.b"))
	assert.Equal(t, "AAPL", Broker("aapl"))
}
