package artifact

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeName(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"", ""},
		{"dump.bin", "dump.bin"},
		{"../../etc/passwd", "etcpasswd"},
		{"a/b\\c:d*e?f\"g<h>i|j", "abcdefghij"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, sanitizeName(tc.in), "input %q", tc.in)
	}

	longName := ""
	for i := 0; i < 300; i++ {
		longName += "a"
	}
	assert.Equal(t, "", sanitizeName(longName))
}

func TestDeriveExtension(t *testing.T) {
	assert.Equal(t, ".bin", deriveExtension("", ""))
	assert.Equal(t, ".txt", deriveExtension("", "text/plain"))
	assert.Equal(t, ".pcap", deriveExtension("capture.pcap", "application/x-pcap"))
	assert.Equal(t, ".bin", deriveExtension("noext", "unknown/type"))
}
