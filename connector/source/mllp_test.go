package source

import (
	"bufio"
	"bytes"
	"testing"
)

func TestReadFrameMLLPExtractsPayload(t *testing.T) {
	m := &MLLPListener{Mode: FrameMLLP}
	var buf bytes.Buffer
	buf.WriteByte(mllpStartByte)
	buf.WriteString("MSH|^~\\&|")
	buf.WriteByte(mllpEndByte1)
	buf.WriteByte(mllpEndByte2)

	got, err := m.readFrame(bufio.NewReader(&buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "MSH|^~\\&|" {
		t.Fatalf("got %q", got)
	}
}

func TestReadFrameRawReadsWholeStream(t *testing.T) {
	m := &MLLPListener{Mode: FrameRaw}
	buf := bytes.NewBufferString("raw payload")
	got, err := m.readFrame(bufio.NewReader(buf))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if string(got) != "raw payload" {
		t.Fatalf("got %q", got)
	}
}

func TestChannelReaderDispatchBeforeStartErrors(t *testing.T) {
	r := NewChannelReader("chan-1")
	_, err := r.Dispatch(nil, []byte("x"))
	if err != ErrChannelNotStarted {
		t.Fatalf("expected ErrChannelNotStarted, got %v", err)
	}
}
