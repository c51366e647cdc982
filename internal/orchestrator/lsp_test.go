package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLSPFrameReaderSingleFrame(t *testing.T) {
	r := &lspFrameReader{}
	frame := "Content-Length: 12\r\n\r\n{\"id\":\"ok\"}\n"
	got := r.feed([]byte(frame))
	require.Equal(t, []string{"{\"id\":\"ok\"}\n"}, got)
}

func TestLSPFrameReaderSplitAcrossFeeds(t *testing.T) {
	r := &lspFrameReader{}
	payload := "{\"method\":\"initialize\"}"
	frame := "Content-Length: " + "23" + "\r\n\r\n" + payload
	require.Equal(t, len(payload), 23)

	var got []string
	for i := 0; i < len(frame); i++ {
		got = append(got, r.feed([]byte{frame[i]})...)
	}
	require.Equal(t, []string{payload}, got)
}

func TestLSPFrameReaderMultipleFrames(t *testing.T) {
	r := &lspFrameReader{}
	msg1, msg2 := "aaa", "bb"
	buf := frameLSMessage(msg1)
	buf = append(buf, frameLSMessage(msg2)...)
	got := r.feed(buf)
	require.Equal(t, []string{msg1, msg2}, got)
}

func TestLSPFrameReaderWaitsForFullBody(t *testing.T) {
	r := &lspFrameReader{}
	got := r.feed([]byte("Content-Length: 5\r\n\r\nhel"))
	require.Empty(t, got)
	got = r.feed([]byte("lo"))
	require.Equal(t, []string{"hello"}, got)
}

func TestFrameLSMessageRoundTrips(t *testing.T) {
	r := &lspFrameReader{}
	framed := frameLSMessage(`{"ping":true}`)
	got := r.feed(framed)
	require.Equal(t, []string{`{"ping":true}`}, got)
}

func TestLineBufferSplitsOnNewline(t *testing.T) {
	b := &lineBuffer{}
	lines := b.feed([]byte("first\nsecond\npart"))
	require.Equal(t, []string{"first", "second"}, lines)

	lines = b.feed([]byte("ial\n"))
	require.Equal(t, []string{"partial"}, lines)
}

func TestLineBufferTrimsCarriageReturn(t *testing.T) {
	b := &lineBuffer{}
	lines := b.feed([]byte("line\r\n"))
	require.Equal(t, []string{"line"}, lines)
}
