package crc

import (
	"strings"
	"testing"
)

func makeCheckN(fun func(byte, []byte) byte, tag string) func(t *testing.T, v1 byte, vs []byte, expect byte) {
	return func(t *testing.T, v1 byte, vs []byte, expect byte) {
		if fun(v1, vs) != expect {
			t.Errorf("%s(%02x, "+strings.Repeat("%02x", len(vs))+") != %02x", tag, v1, vs, expect)
		}
	}
}

func TestSum8(t *testing.T) {
	t.Parallel()
	check := makeCheckN(Sum8, "Sum8")
	check(t, 0, nil, 0x00)
	check(t, 0, []byte{0x01, 0x02, 0x03}, 0x06)
	check(t, 0, []byte{0xff, 0x01}, 0x00)
	check(t, 0x10, []byte{0xf0}, 0x00)
	check(t, 0, []byte("\r\n"), 0x17)
}

func TestSum8Fix(t *testing.T) {
	t.Parallel()
	check := makeCheckN(Sum8Fix, "Sum8Fix")
	check(t, 0, nil, 0x00)
	check(t, 0, []byte{0x01}, 0xff)
	check(t, 0, []byte("V\t12800\r\n"), 0x00-Sum8(0, []byte("V\t12800\r\n")))
	data := []byte("PID\t0xA053\r\nChecksum\t")
	if Sum8(Sum8Fix(0, data), data) != 0 {
		t.Errorf("Sum8Fix does not zero the sum")
	}
}
