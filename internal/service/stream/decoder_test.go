package stream

import (
	"encoding/json"
	"errors"
	"io"
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frame(t *testing.T, content string) string {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"choices": []any{map[string]any{"delta": map[string]any{"content": content}}},
	})
	require.NoError(t, err)
	return "data: " + string(payload) + "\n\n"
}

func feedAll(d *Decoder, chunks ...[]byte) []string {
	var out []string
	for _, c := range chunks {
		out = append(out, d.Feed(c)...)
	}
	return append(out, d.Finish()...)
}

func syntheticStream(t *testing.T) (string, []string) {
	deltas := []string{"Hel", "lo, ", "wörld ", "你好", " 👋🏽", "!"}
	var b strings.Builder
	b.WriteString(": keep-alive\n")
	b.WriteString("event: message\n")
	for i, d := range deltas {
		b.WriteString(frame(t, d))
		if i == 2 {
			b.WriteString("data: {\"choices\":[{\"delta\":{}}]}\r\n\r\n")
		}
	}
	b.WriteString("data: [DONE]\n\n")
	return b.String(), deltas
}

func TestDecoderSplitAcrossChunks(t *testing.T) {
	d := NewDecoder()

	got := d.Feed([]byte(`data: {"choices":[{"delta":{"content":"Hel`))
	assert.Empty(t, got)

	got = d.Feed([]byte("lo\"}}]}\n\n"))
	assert.Equal(t, []string{"Hello"}, got)
	assert.Empty(t, d.Finish())
}

func TestDecoderEveryTwoWaySplitMatchesWholePayload(t *testing.T) {
	body, want := syntheticStream(t)
	raw := []byte(body)

	whole := feedAll(NewDecoder(), raw)
	require.Equal(t, want, whole)

	for i := 0; i <= len(raw); i++ {
		got := feedAll(NewDecoder(), raw[:i], raw[i:])
		require.Equalf(t, want, got, "split at byte %d", i)
	}
}

func TestDecoderRandomChunkingIsDeterministic(t *testing.T) {
	body, want := syntheticStream(t)
	raw := []byte(body)
	rng := rand.New(rand.NewSource(42))

	for round := 0; round < 500; round++ {
		var chunks [][]byte
		for rest := raw; len(rest) > 0; {
			n := 1 + rng.Intn(9)
			if n > len(rest) {
				n = len(rest)
			}
			chunks = append(chunks, rest[:n])
			rest = rest[n:]
		}
		got := feedAll(NewDecoder(), chunks...)
		require.Equalf(t, want, got, "round %d", round)
		assert.Equal(t, "Hello, wörld 你好 👋🏽!", strings.Join(got, ""))
	}
}

func TestDecoderByteAtATime(t *testing.T) {
	body, want := syntheticStream(t)
	d := NewDecoder()
	var got []string
	for _, b := range []byte(body) {
		got = append(got, d.Feed([]byte{b})...)
	}
	got = append(got, d.Finish()...)
	assert.Equal(t, want, got)
	assert.True(t, d.Done())
}

func TestDecoderStopsAtDone(t *testing.T) {
	d := NewDecoder()
	got := feedAll(d,
		[]byte(frame(t, "a")+"data: [DONE]\n"+frame(t, "after")),
		[]byte(frame(t, "later")),
	)
	assert.Equal(t, []string{"a"}, got)
	assert.True(t, d.Done())
}

func TestDecoderSkipsMalformedFrameBetweenValidOnes(t *testing.T) {
	body := frame(t, "one") +
		"data: {\"choices\":[{\"delta\":{\"content\":\"bro\n\n" +
		frame(t, "two") +
		"data: [DONE]\n\n"

	got := feedAll(NewDecoder(), []byte(body))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDecoderMalformedFrameDoesNotStallStream(t *testing.T) {
	d := NewDecoder()
	got := d.Feed([]byte(frame(t, "one") + "data: {oops}\n\n" + frame(t, "two")))
	assert.Equal(t, []string{"one", "two"}, got)
}

func TestDecoderHoldsUnparsedFrameUntilNextChunk(t *testing.T) {
	d := NewDecoder()

	// The payload line is complete but its JSON continues on the next line.
	got := d.Feed([]byte("data: {\"choices\":[{\"delta\":\n"))
	assert.Empty(t, got)

	got = d.Feed([]byte("{\"content\":\"joined\"}}]}\n\n" + frame(t, "next")))
	assert.Equal(t, []string{"joined", "next"}, got)
}

func TestDecoderIgnoresCommentsAndForeignFields(t *testing.T) {
	body := ": ping\n" +
		"id: 7\n" +
		"event: delta\n" +
		"data:{\"choices\":[{\"delta\":{\"content\":\"no-space\"}}]}\n" +
		frame(t, "kept")

	got := feedAll(NewDecoder(), []byte(body))
	assert.Equal(t, []string{"kept"}, got)
}

func TestDecoderFinishParsesUnterminatedTail(t *testing.T) {
	d := NewDecoder()
	tail := strings.TrimSuffix(frame(t, "tail"), "\n\n")

	assert.Empty(t, d.Feed([]byte(tail)))
	assert.Equal(t, []string{"tail"}, d.Finish())
}

func TestDecoderFinishDropsTruncatedTail(t *testing.T) {
	d := NewDecoder()
	got := feedAll(d, []byte(frame(t, "ok")+`data: {"choices":[{"delta":{"content":"cut`))
	assert.Equal(t, []string{"ok"}, got)
}

func TestDecoderFlushesIncompleteRuneAtEnd(t *testing.T) {
	d := NewDecoder()
	// A lone lead byte of a three-byte sequence survives only until Finish.
	assert.Empty(t, d.Feed([]byte{0xe4}))
	assert.Empty(t, d.Finish())
}

type chunkReader struct {
	chunks [][]byte
	err    error
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		if r.err != nil {
			return 0, r.err
		}
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks[0] = r.chunks[0][n:]
	if len(r.chunks[0]) == 0 {
		r.chunks = r.chunks[1:]
	}
	return n, nil
}

func TestPumpConcatenatesDeltas(t *testing.T) {
	body, want := syntheticStream(t)
	r := &chunkReader{chunks: [][]byte{[]byte(body[:17]), []byte(body[17:40]), []byte(body[40:])}}

	var emitted []string
	res, err := Pump(r, func(delta string) { emitted = append(emitted, delta) })
	require.NoError(t, err)
	assert.Equal(t, want, emitted)
	assert.Equal(t, strings.Join(want, ""), res.Content)
	assert.Equal(t, len(want), res.Deltas)
	assert.True(t, res.Terminated)
}

func TestPumpReturnsReadError(t *testing.T) {
	boom := errors.New("connection reset")
	r := &chunkReader{chunks: [][]byte{[]byte(frame(t, "partial"))}, err: boom}

	res, err := Pump(r, nil)
	require.ErrorIs(t, err, boom)
	assert.Equal(t, "partial", res.Content)
	assert.False(t, res.Terminated)
}
