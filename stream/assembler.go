// Package stream implements incremental parsing of newline-delimited
// JSON byte streams into mutable state, shared by chat streaming and
// upload-progress streaming.
package stream

import (
	"bytes"
	"errors"
	"io"
	"unicode/utf8"

	"chatraw/config"
)

// ErrCancelled is returned by Consume when the cancellation token fired.
// Callers treat it as an expected outcome, not a network failure.
var ErrCancelled = errors.New("stream cancelled")

// Consumer applies one complete JSON line to its state.
type Consumer interface {
	Frame(line []byte) error
}

// Assembler turns arbitrary byte chunks into complete NDJSON frames.
// A multi-byte UTF-8 character or a line may straddle chunk boundaries;
// both the undecoded byte remainder and the line buffer persist across
// feeds, so no partial data is ever lost between reads.
type Assembler struct {
	consumer Consumer
	carry    []byte       // incomplete trailing UTF-8 sequence from the last chunk
	line     bytes.Buffer // decoded text up to the next newline
}

// NewAssembler creates an assembler feeding frames into consumer.
func NewAssembler(consumer Consumer) *Assembler {
	return &Assembler{consumer: consumer}
}

// Feed decodes one chunk and dispatches every completed line. A line
// that fails to parse as JSON is dropped and the stream continues.
func (a *Assembler) Feed(chunk []byte) {
	if len(chunk) == 0 {
		return
	}

	data := chunk
	if len(a.carry) > 0 {
		data = append(a.carry, chunk...)
		a.carry = nil
	}

	complete, rest := splitCompleteUTF8(data)
	if len(rest) > 0 {
		a.carry = append([]byte(nil), rest...)
	}

	a.line.Write(complete)
	a.extractLines()
}

// Flush handles a final unterminated line at end of stream. Any held
// incomplete UTF-8 remainder is passed through as-is; it was truncated
// by the producer, not by us.
func (a *Assembler) Flush() {
	if len(a.carry) > 0 {
		a.line.Write(a.carry)
		a.carry = nil
	}
	if a.line.Len() > 0 {
		a.dispatch(a.line.Bytes())
		a.line.Reset()
	}
}

// extractLines repeatedly removes the text up to the next newline from
// the line buffer and parses it as one frame.
func (a *Assembler) extractLines() {
	for {
		data := a.line.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			return
		}

		line := make([]byte, idx)
		copy(line, data[:idx])
		a.line.Next(idx + 1)

		a.dispatch(line)
	}
}

func (a *Assembler) dispatch(line []byte) {
	line = bytes.TrimSpace(line)
	if len(line) == 0 {
		return
	}
	if err := a.consumer.Frame(line); err != nil {
		// Bad frame: drop it, keep the stream alive.
		if config.DebugLog != nil {
			config.DebugLog.Printf("[stream] dropping unparseable frame: %v", err)
		}
	}
}

// Consume reads body to completion, feeding the assembler, under the
// given cancellation token. On cancel the pending read is abandoned by
// closing the body (releasing the connection) and ErrCancelled is
// returned; everything applied so far stays applied.
func (a *Assembler) Consume(body io.ReadCloser, tok *CancelToken) error {
	defer body.Close()

	if tok != nil {
		// Closing the body is what actually unblocks a pending Read.
		stop := tok.onCancel(func() { body.Close() })
		defer stop()
	}

	buf := make([]byte, 4096)
	for {
		n, err := body.Read(buf)
		// A chunk delivered together with (or after) the fire is
		// discarded: once the token fires, no further frame is applied.
		if tok != nil && tok.Cancelled() {
			return ErrCancelled
		}
		if n > 0 {
			a.Feed(buf[:n])
		}
		if err != nil {
			if err == io.EOF {
				a.Flush()
				return nil
			}
			return err
		}
	}
}

// splitCompleteUTF8 splits data into a prefix of complete UTF-8
// sequences and an incomplete trailing remainder (at most 3 bytes).
func splitCompleteUTF8(data []byte) (complete, rest []byte) {
	n := len(data)
	// Walk back over at most utf8.UTFMax-1 continuation bytes to find
	// the start of the final rune.
	start := n
	for start > 0 && n-start < utf8.UTFMax-1 {
		start--
		b := data[start]
		if b < utf8.RuneSelf {
			// ASCII: everything is complete.
			return data, nil
		}
		if b&0xC0 != 0x80 {
			// Found the leading byte of the final sequence.
			if utf8.FullRune(data[start:]) {
				return data, nil
			}
			return data[:start], data[start:]
		}
	}
	return data, nil
}
