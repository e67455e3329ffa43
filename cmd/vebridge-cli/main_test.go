package main

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/temoto/vebridge/vedirect"
)

func testConsole() (*console, *bytes.Buffer) {
	var buf bytes.Buffer
	c := newConsole(&buf, vedirect.DefaultOptions(), "victron/mppt", vedirect.DefaultReserved)
	c.now = func() time.Time { return time.Unix(1700000000, 0) }
	return c, &buf
}

func TestConsoleFix(t *testing.T) {
	t.Parallel()
	c, buf := testConsole()
	c.exec(`V\t12800`)
	c.exec(`SER#\tHQ1`)
	c.exec(":fix")
	fix := strings.TrimSpace(buf.String())
	require.True(t, strings.HasPrefix(fix, `"Checksum\t`), fix)
	buf.Reset()

	raw := vedirect.ChecksumLine([]byte("V\t12800\r\nSER#\tHQ1\r\n"), vedirect.DefaultChecksumField)
	c.feed(raw)
	assert.Equal(t, "victron/mppt/V=12800\nvictron/mppt/_ts=1700000000\n", buf.String())
}

func TestConsoleBadChecksum(t *testing.T) {
	t.Parallel()
	c, buf := testConsole()
	c.exec(`V\t12800\r\nChecksum\t\x00`)
	assert.Equal(t, "checksum\n", buf.String())
	buf.Reset()
	c.exec(":stat")
	assert.Contains(t, buf.String(), "checksum=1")
}

func TestConsoleMode(t *testing.T) {
	t.Parallel()
	c, buf := testConsole()
	c.exec(":mode sentinel")
	c.exec(`V\t1`)
	c.exec(`HSDS\t5`)
	assert.Equal(t, "mode=sentinel\nvictron/mppt/HSDS=5\nvictron/mppt/V=1\nvictron/mppt/_ts=1700000000\n", buf.String())
	buf.Reset()
	c.exec(":mode bogus")
	assert.Contains(t, buf.String(), "error")
	buf.Reset()
	c.exec(":fix")
	assert.Equal(t, "no pending frame in checksum mode\n", buf.String())
}

func TestConsoleReset(t *testing.T) {
	t.Parallel()
	c, buf := testConsole()
	c.exec(`V\t1`)
	c.exec(":reset")
	c.exec(":reset")
	assert.Equal(t, "reset\nskip\n", buf.String())
}

func TestConsoleHexLine(t *testing.T) {
	t.Parallel()
	c, buf := testConsole()
	c.exec(":A0102000543")
	assert.Equal(t, "", buf.String())
	c.exec(`bad\q`)
	assert.Contains(t, buf.String(), "error")
}
