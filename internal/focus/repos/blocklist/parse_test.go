package blocklist

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_Hosts(t *testing.T) {
	input := `
# comment
127.0.0.1 localhost
::1 localhost ip6-localhost ip6-loopback
0.0.0.0 www.Reddit.com news.ycombinator.com # inline comment
0.0.0.0 *.bad.example.com
192.168.1.1 reddit.com
192.0.2.1
`
	got, err := Parse(strings.NewReader(input), FormatHosts, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"reddit.com", "news.ycombinator.com"}, got)
}

func TestParse_Plain(t *testing.T) {
	input := "\uFEFFyoutube.com\n*.twitter.com\n.facebook.com # social\nhttps://www.instagram.com/explore\nnot a domain\ncom\nyoutube.com\n"
	got, err := Parse(strings.NewReader(input), FormatPlain, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"youtube.com", "twitter.com", "facebook.com", "instagram.com"}, got)
}

func TestParse_AutoDetect(t *testing.T) {
	got, err := Parse(strings.NewReader("# header\n0.0.0.0 a.com b.com\n"), FormatAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, got)

	got, err = Parse(strings.NewReader("a.com\nb.com\n"), FormatAuto, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.com", "b.com"}, got)
}

func TestParse_ScannerError(t *testing.T) {
	big := bytes.Repeat([]byte{'a'}, 70000)
	_, err := Parse(bytes.NewReader(big), FormatPlain, nil)
	assert.Error(t, err)
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatAuto, f)

	f, err = ParseFormat(" Hosts ")
	require.NoError(t, err)
	assert.Equal(t, FormatHosts, f)

	_, err = ParseFormat("csv")
	assert.Error(t, err)
}
