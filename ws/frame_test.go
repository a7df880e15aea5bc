package ws

import (
	"bytes"
	"testing"
)

func TestFrameRoundTripUnmasked(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	if err := fw.WriteTextFrame([]byte("hello"), nil); err != nil {
		t.Fatalf("WriteTextFrame: %v", err)
	}

	fr := NewFrameReader(&buf)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if frame.Opcode != OpcodeText || !frame.Fin {
		t.Fatalf("unexpected frame: %+v", frame)
	}
	if string(frame.Payload) != "hello" {
		t.Fatalf("got %q", frame.Payload)
	}
}

func TestFrameRoundTripMasked(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	key := [4]byte{1, 2, 3, 4}
	payload := []byte("masked payload")
	if err := fw.WriteFrame(OpcodeBinary, true, append([]byte{}, payload...), &key); err != nil {
		t.Fatalf("WriteFrame: %v", err)
	}

	fr := NewFrameReader(&buf)
	frame, err := fr.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if !frame.Masked {
		t.Fatal("expected masked frame")
	}
	if string(frame.Payload) != string(payload) {
		t.Fatalf("got %q, want %q", frame.Payload, payload)
	}
}

func TestControlFrameTooLargeRejected(t *testing.T) {
	var buf bytes.Buffer
	fw := NewFrameWriter(&buf)
	big := make([]byte, 200)
	if err := fw.WriteControlFrame(OpcodePing, big, nil); err != ErrInvalidControlFrame {
		t.Fatalf("expected ErrInvalidControlFrame, got %v", err)
	}
}

func TestReservedBitsRejected(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{finalBit | rsv1Bit | byte(OpcodeText), 0x00})
	fr := NewFrameReader(&buf)
	if _, err := fr.ReadFrame(); err != ErrReservedBitsSet {
		t.Fatalf("expected ErrReservedBitsSet, got %v", err)
	}
}

func TestComputeAcceptKeyMatchesRFC6455Example(t *testing.T) {
	// RFC 6455 §1.3 worked example.
	got := ComputeAcceptKey("dGhlIHNhbXBsZSBub25jZQ==")
	want := "s3pPLMBiTxaQ9kYGzzhZRbK+xOo="
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}
