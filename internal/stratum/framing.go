package stratum

import (
	"bytes"
	"errors"
)

// maxLineSize bounds a single unterminated line.
const maxLineSize = 1 << 20

var errLineTooLong = errors.New("stratum line exceeds maximum size")

// lineBuffer accumulates stream bytes and yields complete newline
// terminated lines. It is owned by a single goroutine.
type lineBuffer struct {
	data []byte
}

// feed appends chunk and calls fn for every complete non-empty line, in
// order. The slice passed to fn is only valid during the call. Trailing
// partial data is kept for the next feed.
func (b *lineBuffer) feed(chunk []byte, fn func(line []byte)) error {
	b.data = append(b.data, chunk...)

	consumed := 0
	for {
		i := bytes.IndexByte(b.data[consumed:], '\n')
		if i < 0 {
			break
		}
		line := bytes.TrimSuffix(b.data[consumed:consumed+i], []byte{'\r'})
		consumed += i + 1
		if len(line) > 0 {
			fn(line)
		}
	}

	n := copy(b.data, b.data[consumed:])
	b.data = b.data[:n]

	if len(b.data) > maxLineSize {
		b.data = b.data[:0]
		return errLineTooLong
	}
	return nil
}

// pending returns the number of buffered bytes awaiting a newline.
func (b *lineBuffer) pending() int {
	return len(b.data)
}

func (b *lineBuffer) reset() {
	b.data = b.data[:0]
}
