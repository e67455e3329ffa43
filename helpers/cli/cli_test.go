package cli

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/helpers"
)

func TestUnescape(t *testing.T) {
	t.Parallel()
	cases := []struct {
		input  string
		expect []byte
		err    string
	}{
		{"V\\t12800\\r\\n", []byte("V\t12800\r\n"), ""},
		{"Checksum\\t\\x3d", []byte("Checksum\t="), ""},
		{"\\xff\\x00", helpers.MustHex("ff00"), ""},
		{"a\\\\b", []byte("a\\b"), ""},
		{"plain", []byte("plain"), ""},
		{"bad\\", nil, "escape at end"},
		{"\\x4", nil, "short"},
		{"\\xzz", nil, "escape in"},
		{"\\q", nil, "escape \\q"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.input, func(t *testing.T) {
			t.Parallel()
			b, err := Unescape(c.input)
			if c.err != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), c.err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, c.expect, b)
		})
	}
}

func TestBatch(t *testing.T) {
	t.Parallel()
	var lines []string
	err := Batch(strings.NewReader("one\n  two  \n\nthree"), func(l string) { lines = append(lines, l) })
	require.NoError(t, err)
	assert.Equal(t, []string{"one", "two", "", "three"}, lines)
}
