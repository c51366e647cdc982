package orchestrator

import (
	"bytes"
	"strconv"
	"strings"
)

// lspFrameReader decodes Content-Length-framed LSP messages from a
// streaming byte source, restoring the intent of original_source/
// worker/src/lib.rs's send_stdout closure for the language-server
// stdout handler: scan for a header block ending in a blank line, then
// wait until the declared number of body bytes is available before
// emitting a frame. Unlike the original's VecDeque-plus-backfill-buffer
// implementation, this keeps one persistent slice and only advances past
// bytes once a full frame is confirmed, which is observably the same
// "leave everything unconsumed until decodable" behavior with less
// bookkeeping.
type lspFrameReader struct {
	buf []byte
}

// feed appends data and returns every complete frame payload that could
// be decoded from it, in arrival order.
func (r *lspFrameReader) feed(data []byte) []string {
	r.buf = append(r.buf, data...)
	var out []string
	for {
		payload, consumed, ok := parseLSPFrame(r.buf)
		if !ok {
			return out
		}
		out = append(out, payload)
		r.buf = r.buf[consumed:]
	}
}

const contentLengthHeader = "Content-Length: "

// parseLSPFrame attempts to decode one frame from the front of buf. ok is
// false, with consumed left at 0, whenever the header block or the body
// is not yet fully buffered; the caller must not advance in that case.
func parseLSPFrame(buf []byte) (payload string, consumed int, ok bool) {
	contentLength := -1
	pos := 0
	for {
		nl := bytes.IndexByte(buf[pos:], '\n')
		if nl < 0 {
			return "", 0, false
		}
		line := buf[pos : pos+nl+1]
		pos += nl + 1

		if bytes.HasPrefix(line, []byte(contentLengthHeader)) {
			trimmed := strings.TrimRight(string(line[len(contentLengthHeader):]), "\r\n")
			if n, err := strconv.Atoi(trimmed); err == nil {
				contentLength = n
			}
			continue
		}
		if string(line) == "\r\n" {
			if contentLength < 0 {
				continue
			}
			if len(buf)-pos < contentLength {
				return "", 0, false
			}
			return string(buf[pos : pos+contentLength]), pos + contentLength, true
		}
	}
}

// frameLSMessage wraps an outgoing LSP payload (as sent by the client via
// protocol.LSMessage, which carries no header) with the Content-Length
// header the language server's stdin expects, per spec.md §4.7.
func frameLSMessage(payload string) []byte {
	return []byte(contentLengthHeader + strconv.Itoa(len(payload)) + "\r\n\r\n" + payload)
}

// lineBuffer buffers bytes until a newline and emits each completed line,
// restoring original_source/worker/src/lib.rs's send_stderr closure for
// the language server's stderr handler (operational noise logged by
// line, never streamed to the client, per SPEC_FULL §7).
type lineBuffer struct {
	buf []byte
}

func (b *lineBuffer) feed(data []byte) []string {
	b.buf = append(b.buf, data...)
	var lines []string
	for {
		i := bytes.IndexByte(b.buf, '\n')
		if i < 0 {
			return lines
		}
		lines = append(lines, string(bytes.TrimRight(b.buf[:i], "\r")))
		b.buf = b.buf[i+1:]
	}
}
