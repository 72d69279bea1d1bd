package feed

import (
	"bytes"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBOMSkippingReader(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "with BOM", input: append([]byte{0xEF, 0xBB, 0xBF}, "<a/>"...), expected: "<a/>"},
		{name: "without BOM", input: []byte("<a/>"), expected: "<a/>"},
		{name: "empty", input: []byte{}, expected: ""},
		{name: "only BOM", input: []byte{0xEF, 0xBB, 0xBF}, expected: ""},
		{name: "short input", input: []byte("ab"), expected: "ab"},
		{name: "partial BOM", input: []byte{0xEF, 0xBB, 'a'}, expected: string([]byte{0xEF, 0xBB, 'a'})},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newBOMSkippingReader(bytes.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestUTF8Sanitizer(t *testing.T) {
	tests := []struct {
		name     string
		input    []byte
		expected string
	}{
		{name: "ascii", input: []byte("<a>x</a>"), expected: "<a>x</a>"},
		{name: "valid multibyte", input: []byte("<a>Młotek żółty</a>"), expected: "<a>Młotek żółty</a>"},
		{name: "invalid byte", input: []byte{'<', 'a', '>', 0x80, '<', '/', 'a', '>'}, expected: "<a>?</a>"},
		{name: "truncated sequence at EOF", input: []byte{'x', 0xC5}, expected: "x?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := io.ReadAll(newUTF8Sanitizer(bytes.NewReader(tt.input)))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(got))
		})
	}
}

func TestUTF8Sanitizer_SplitAcrossReads(t *testing.T) {
	input := strings.Repeat("ż", 100)
	r := newUTF8Sanitizer(iotest.OneByteReader(strings.NewReader(input)))

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, input, string(got), "multibyte runes split across reads")
}

func TestDeclaredEncoding(t *testing.T) {
	tests := []struct {
		head string
		want string
	}{
		{`<?xml version="1.0" encoding="UTF-8"?><offer/>`, "utf-8"},
		{`<?xml version='1.0' encoding='ISO-8859-2'?>`, "iso-8859-2"},
		{`<?xml version="1.0"?><offer/>`, "utf-8"},
		{`<offer/>`, "utf-8"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, declaredEncoding([]byte(tt.head)), tt.head)
	}
}
