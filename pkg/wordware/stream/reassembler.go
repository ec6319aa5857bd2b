package stream

import (
	"bytes"
	"strings"
)

// LineReassembler turns an arbitrary chunked byte stream into complete
// newline-terminated lines. Any suffix after the last newline is carried
// over to the next Feed call, so a line (or a multi-byte rune, or a JSON
// escape sequence) split across chunk boundaries is emitted exactly once.
type LineReassembler struct {
	carry []byte
}

func NewLineReassembler() *LineReassembler {
	return &LineReassembler{}
}

// Feed appends chunk to the carry buffer and returns every line completed by
// it, without the trailing newline. Empty lines are returned as well.
func (r *LineReassembler) Feed(chunk []byte) []string {
	if len(chunk) == 0 {
		return nil
	}
	r.carry = append(r.carry, chunk...)

	var lines []string
	for {
		idx := bytes.IndexByte(r.carry, '\n')
		if idx < 0 {
			break
		}
		lines = append(lines, string(r.carry[:idx]))
		r.carry = r.carry[idx+1:]
	}

	// Compact so the backing array does not grow without bound on long streams.
	if len(r.carry) == 0 {
		r.carry = nil
	} else if cap(r.carry) > 2*len(r.carry)+4096 {
		r.carry = append([]byte(nil), r.carry...)
	}
	return lines
}

// Pending reports the number of buffered bytes not yet terminated by a newline.
func (r *LineReassembler) Pending() int {
	return len(r.carry)
}

// Flush returns the carry-over content at end of stream and resets the buffer.
// ok is false when nothing but whitespace was left.
func (r *LineReassembler) Flush() (tail string, ok bool) {
	tail = string(r.carry)
	r.carry = nil
	if strings.TrimSpace(tail) == "" {
		return "", false
	}
	return tail, true
}
