package stratum

import (
	"bytes"
	"reflect"
	"strings"
	"testing"
)

func collect(b *lineBuffer, chunks ...string) ([]string, error) {
	var got []string
	var err error
	for _, c := range chunks {
		if e := b.feed([]byte(c), func(line []byte) { got = append(got, string(line)) }); e != nil {
			err = e
		}
	}
	return got, err
}

func TestLineBuffer_Feed(t *testing.T) {
	tests := []struct {
		name    string
		chunks  []string
		want    []string
		pending int
	}{
		{"single line", []string{"a\n"}, []string{"a"}, 0},
		{"two lines one chunk", []string{"a\nb\n"}, []string{"a", "b"}, 0},
		{"partial tail retained", []string{"a\nbc"}, []string{"a"}, 2},
		{"line split across chunks", []string{`{"id":`, `1}` + "\n"}, []string{`{"id":1}`}, 0},
		{"empty lines skipped", []string{"\n\na\n\n"}, []string{"a"}, 0},
		{"crlf trimmed", []string{"a\r\nb\r\n"}, []string{"a", "b"}, 0},
		{"byte at a time", strings.Split("xy\nz\n", ""), []string{"xy", "z"}, 0},
		{"no newline", []string{"abc", "def"}, nil, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var b lineBuffer
			got, err := collect(&b, tt.chunks...)
			if err != nil {
				t.Fatalf("feed() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("lines = %q, want %q", got, tt.want)
			}
			if b.pending() != tt.pending {
				t.Errorf("pending = %d, want %d", b.pending(), tt.pending)
			}
		})
	}
}

func TestLineBuffer_TooLong(t *testing.T) {
	var b lineBuffer
	_, err := collect(&b, string(bytes.Repeat([]byte{'x'}, maxLineSize+1)))
	if err != errLineTooLong {
		t.Fatalf("err = %v, want errLineTooLong", err)
	}
	if b.pending() != 0 {
		t.Errorf("buffer should be discarded, pending = %d", b.pending())
	}

	got, err := collect(&b, "ok\n")
	if err != nil || !reflect.DeepEqual(got, []string{"ok"}) {
		t.Errorf("after overflow got %q, %v", got, err)
	}
}
