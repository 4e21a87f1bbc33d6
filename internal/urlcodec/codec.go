// Package urlcodec translates between plain text and the escaping scheme the
// CloudWatch console uses for values embedded in its URL fragment.
//
// The host format is URI component escaping with two twists: the field
// delimiter '~' is escaped as well, and the escape marker is '*' instead of
// '%'. A timestamp such as 2022-02-02T10:14:50.000Z is carried as
// 2022-02-02T10*3A14*3A50.000Z.
package urlcodec

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

const (
	// Marker is the host's escape marker.
	Marker = '*'
	// Delimiter separates keys and values inside the fragment.
	Delimiter = '~'

	// reservedChars are the sub-delims RFC 3986 reserves but URI component
	// escaping leaves alone.
	reservedChars = "!'()*"
)

// ErrMalformed reports an escape sequence the standard decoder rejected or
// one that decodes to invalid UTF-8.
var ErrMalformed = errors.New("urlcodec: malformed escape")

var reservedDecoder = buildReservedDecoder()

func buildReservedDecoder() *strings.Replacer {
	pairs := make([]string, 0, len(reservedChars)*2)
	for _, c := range reservedChars {
		pairs = append(pairs, escapeChar(byte(c)), string(c))
	}
	return strings.NewReplacer(pairs...)
}

// Encode escapes text for embedding as a fragment value.
func Encode(text string) string {
	escaped := escapeComponent(text)
	escaped = escapeSet(escaped, reservedChars)
	escaped = escapeSet(escaped, string(Delimiter))
	return strings.ReplaceAll(escaped, "%", string(Marker))
}

// Decode reverses Encode. Malformed escapes are reported as ErrMalformed.
func Decode(encoded string) (string, error) {
	plain := reservedDecoder.Replace(encoded)
	plain = strings.ReplaceAll(plain, string(Marker), "%")
	out, err := url.PathUnescape(plain)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if !utf8.ValidString(out) {
		return "", fmt.Errorf("%w: %q is not valid UTF-8", ErrMalformed, encoded)
	}
	return out, nil
}

// escapeComponent matches encodeURIComponent except that the RFC 3986
// sub-delims are already escaped by QueryEscape. Spaces come back as '+',
// and any literal '+' has been escaped to %2B, so every '+' left is a space.
func escapeComponent(s string) string {
	return strings.ReplaceAll(url.QueryEscape(s), "+", "%20")
}

func escapeSet(s, chars string) string {
	if !strings.ContainsAny(s, chars) {
		return s
	}
	var b strings.Builder
	b.Grow(len(s) + 8)
	for i := 0; i < len(s); i++ {
		if strings.IndexByte(chars, s[i]) >= 0 {
			b.WriteString(escapeChar(s[i]))
			continue
		}
		b.WriteByte(s[i])
	}
	return b.String()
}

func escapeChar(c byte) string {
	return fmt.Sprintf("%%%02X", c)
}
