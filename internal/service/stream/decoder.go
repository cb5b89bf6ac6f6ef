package stream

import (
	"errors"
	"strings"
	"unicode/utf8"

	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"
)

const (
	dataPrefix    = "data: "
	commentPrefix = ":"
	doneToken     = "[DONE]"
	deltaPath     = "choices.0.delta.content"

	// MaxFrameSize bounds how much text a single unparsable frame may hold
	// while waiting for its continuation lines.
	MaxFrameSize = 64 * 1024
)

// Decoder turns chunks of an event-stream body into ordered text deltas.
//
// Chunks may split lines and multi-byte characters anywhere. A data line
// whose payload does not parse yet stays at the front of the buffer until
// more input arrives, so no byte of a frame that later becomes valid is lost.
// A Decoder is not safe for concurrent use.
type Decoder struct {
	utf8  *encoding.Decoder
	carry []byte // undecoded tail of an incomplete UTF-8 sequence
	buf   string // decoded text not yet consumed as lines
	done  bool
}

// NewDecoder returns a Decoder ready for the first chunk.
func NewDecoder() *Decoder {
	return &Decoder{utf8: unicode.UTF8.NewDecoder()}
}

// Done reports whether the termination token has been seen.
func (d *Decoder) Done() bool {
	return d.done
}

// Feed appends a chunk and returns the deltas it completes, in order.
// After the termination token every chunk is drained and ignored.
func (d *Decoder) Feed(chunk []byte) []string {
	if d.done {
		return nil
	}
	d.buf += d.decode(chunk, false)
	return d.scan()
}

// Finish flushes the decoder at end of stream. Residual lines get one
// best-effort pass; anything still malformed is dropped.
func (d *Decoder) Finish() []string {
	if d.done {
		return nil
	}
	rest := d.buf + d.decode(nil, true)
	d.buf = ""

	var deltas []string
	for _, line := range strings.Split(rest, "\n") {
		payload, ok := framePayload(line)
		if !ok {
			continue
		}
		if payload == doneToken {
			d.done = true
			break
		}
		if delta, valid := parseDelta(payload); valid && delta != "" {
			deltas = append(deltas, delta)
		}
	}
	return deltas
}

// decode runs the stateful UTF-8 decoder over p, keeping an incomplete
// trailing sequence for the next call unless atEOF.
func (d *Decoder) decode(p []byte, atEOF bool) string {
	src := p
	if len(d.carry) > 0 {
		src = append(d.carry, p...)
		d.carry = nil
	}
	if len(src) == 0 {
		return ""
	}

	// Each invalid byte expands to a three-byte replacement rune at most.
	dst := make([]byte, 3*len(src)+utf8.UTFMax)
	nDst, nSrc, err := d.utf8.Transform(dst, src, atEOF)
	if errors.Is(err, transform.ErrShortSrc) {
		d.carry = append([]byte(nil), src[nSrc:]...)
	}
	return string(dst[:nDst])
}

// scan consumes every complete line currently buffered.
func (d *Decoder) scan() []string {
	var deltas []string
	for !d.done {
		idx := strings.IndexByte(d.buf, '\n')
		if idx < 0 {
			return deltas
		}
		line := trimCR(d.buf[:idx])

		payload, ok := framePayload(line)
		if !ok {
			d.buf = d.buf[idx+1:]
			continue
		}
		if payload == doneToken {
			d.buf = ""
			d.done = true
			return deltas
		}

		delta, consumed, state := d.resolve(payload, idx+1)
		switch state {
		case framePending:
			// Leave the frame at the front of the buffer; the next chunk resumes here.
			return deltas
		case frameParsed:
			if delta != "" {
				deltas = append(deltas, delta)
			}
		}
		d.buf = d.buf[consumed:]
	}
	return deltas
}

type frameState int

const (
	frameParsed frameState = iota
	framePending
	frameMalformed
)

// resolve parses the payload of the data line ending at offset end. A payload
// that fails to parse is joined with the following continuation lines until it
// parses, a new field or blank line shows it is malformed, or the buffer runs
// out of complete lines (pending).
func (d *Decoder) resolve(payload string, end int) (string, int, frameState) {
	if delta, ok := parseDelta(payload); ok {
		return delta, end, frameParsed
	}

	joined := payload
	for {
		if len(joined) > MaxFrameSize {
			return "", end, frameMalformed
		}
		idx := strings.IndexByte(d.buf[end:], '\n')
		if idx < 0 {
			return "", 0, framePending
		}
		next := trimCR(d.buf[end : end+idx])
		if !isContinuation(next) {
			return "", end, frameMalformed
		}
		end += idx + 1
		joined += "\n" + next
		if delta, ok := parseDelta(strings.TrimSpace(joined)); ok {
			return delta, end, frameParsed
		}
	}
}

// framePayload returns the trimmed payload of a data line.
func framePayload(line string) (string, bool) {
	line = trimCR(line)
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, commentPrefix) {
		return "", false
	}
	if !strings.HasPrefix(line, dataPrefix) {
		return "", false
	}
	return strings.TrimSpace(line[len(dataPrefix):]), true
}

// isContinuation reports whether a line can only be the tail of a payload
// split across lines rather than a field, comment or event boundary.
func isContinuation(line string) bool {
	if strings.TrimSpace(line) == "" || strings.HasPrefix(line, commentPrefix) {
		return false
	}
	for _, field := range []string{"data:", "event:", "id:", "retry:"} {
		if strings.HasPrefix(line, field) {
			return false
		}
	}
	return true
}

// parseDelta reports whether payload is valid JSON and returns its delta text.
func parseDelta(payload string) (string, bool) {
	if !gjson.Valid(payload) {
		return "", false
	}
	content := gjson.Get(payload, deltaPath)
	if content.Type != gjson.String {
		return "", true
	}
	return content.Str, true
}

func trimCR(line string) string {
	return strings.TrimSuffix(line, "\r")
}
