package stream

import (
	"errors"
	"fmt"
	"io"
)

// readSize is the size of each body read; the decoder copes with any split.
const readSize = 4 * 1024

// Result summarises a fully drained stream.
type Result struct {
	Content    string // concatenation of every emitted delta
	Deltas     int
	Terminated bool // the termination token was seen
}

// Pump reads body to completion, feeding each chunk through a fresh Decoder
// and calling emit once per delta in arrival order. Reading continues after
// the termination token so the connection is drained. A read error other
// than io.EOF aborts the pump and is returned along with what was emitted so far.
func Pump(body io.Reader, emit func(delta string)) (Result, error) {
	dec := NewDecoder()
	var res Result
	deliver := func(deltas []string) {
		for _, delta := range deltas {
			res.Content += delta
			res.Deltas++
			if emit != nil {
				emit(delta)
			}
		}
	}

	buf := make([]byte, readSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			deliver(dec.Feed(buf[:n]))
		}
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			res.Terminated = dec.Done()
			return res, fmt.Errorf("read stream body: %w", err)
		}
	}

	deliver(dec.Finish())
	res.Terminated = dec.Done()
	return res, nil
}
