package framer

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/ianaindex"
	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
)

// strictLatin keeps the ISO names the WHATWG index folds into windows-1252
var strictLatin = map[string]encoding.Encoding{
	"iso-8859-1": charmap.ISO8859_1,
	"iso8859-1":  charmap.ISO8859_1,
	"latin1":     charmap.ISO8859_1,
}

// Lookup resolves a charset name, nil meaning UTF-8
func Lookup(charset string) (encoding.Encoding, error) {
	name := strings.ToLower(strings.TrimSpace(charset))
	switch name {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	if enc, ok := strictLatin[name]; ok {
		return enc, nil
	}
	if enc, err := htmlindex.Get(name); err == nil {
		return enc, nil
	}
	enc, err := ianaindex.IANA.Encoding(name)
	if err != nil || enc == nil {
		return nil, fmt.Errorf("unsupported charset %q", charset)
	}
	return enc, nil
}

func dropCR() transform.Transformer {
	return runes.Remove(runes.Predicate(func(r rune) bool { return r == '\r' }))
}

// NewReader decodes r from charset and drops carriage returns.
// Multi-byte sequences split between reads are kept whole.
func NewReader(r io.Reader, charset string) (io.Reader, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return transform.NewReader(r, dropCR()), nil
	}
	return transform.NewReader(r, transform.Chain(enc.NewDecoder(), dropCR())), nil
}

// Decode converts raw remote bytes to text, carriage returns included
func Decode(b []byte, charset string) (string, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return "", err
	}
	if enc == nil {
		return string(b), nil
	}
	out, dErr := enc.NewDecoder().Bytes(b)
	if dErr != nil {
		return "", fmt.Errorf("failed to decode %s: %w", charset, dErr)
	}
	return string(out), nil
}

// Encode converts text to charset for sending
func Encode(s string, charset string) ([]byte, error) {
	enc, err := Lookup(charset)
	if err != nil {
		return nil, err
	}
	if enc == nil {
		return []byte(s), nil
	}
	out, eErr := encoding.ReplaceUnsupported(enc.NewEncoder()).Bytes([]byte(s))
	if eErr != nil {
		return nil, fmt.Errorf("failed to encode %s: %w", charset, eErr)
	}
	return out, nil
}
