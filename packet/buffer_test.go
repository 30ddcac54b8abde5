package packet

import (
	"errors"
	"strings"
	"testing"
)

func TestNameSerialization(t *testing.T) {
	buffer := NewBytePacketBuffer()
	name := "google.com."

	if err := buffer.WriteName(name); err != nil {
		t.Fatalf("Failed to write name: %v", err)
	}

	_ = buffer.Seek(0)
	readName, err := buffer.ReadName()
	if err != nil {
		t.Fatalf("Failed to read name: %v", err)
	}
	if readName != name {
		t.Errorf("Expected %q, got %q", name, readName)
	}
}

func TestNamePreservesCase(t *testing.T) {
	buffer := NewBytePacketBuffer()
	name := "GoOgLe.CoM."

	if err := buffer.WriteName(name); err != nil {
		t.Fatalf("Failed to write name: %v", err)
	}
	_ = buffer.Seek(0)
	readName, err := buffer.ReadName()
	if err != nil {
		t.Fatalf("Failed to read name: %v", err)
	}
	if readName != name {
		t.Errorf("Case not preserved: wrote %q, read %q", name, readName)
	}
}

func TestNameCompression(t *testing.T) {
	buffer := NewBytePacketBuffer()
	buffer.HasNames = true

	if err := buffer.WriteName("mail.example.com."); err != nil {
		t.Fatalf("write first name: %v", err)
	}
	posAfterFirst := buffer.Position()
	if err := buffer.WriteName("www.example.com."); err != nil {
		t.Fatalf("write second name: %v", err)
	}

	// The second name shares the "example.com." suffix: one label plus
	// a 2-byte pointer is all it should cost.
	second := buffer.Position() - posAfterFirst
	if second != 1+3+2 {
		t.Errorf("Expected 6 bytes for compressed name, got %d", second)
	}

	_ = buffer.Seek(posAfterFirst)
	readName, err := buffer.ReadName()
	if err != nil {
		t.Fatalf("read compressed name: %v", err)
	}
	if readName != "www.example.com." {
		t.Errorf("Expected www.example.com., got %q", readName)
	}
}

func TestNamePointerLoopFails(t *testing.T) {
	buffer := NewBytePacketBuffer()
	// A pointer at offset 0 pointing at itself.
	buffer.Buf[0] = 0xC0
	buffer.Buf[1] = 0x00
	if _, err := buffer.ReadName(); !errors.Is(err, ErrMalformedName) {
		t.Errorf("Expected ErrMalformedName for pointer loop, got %v", err)
	}
}

func TestNameReservedLabelBitsFail(t *testing.T) {
	for _, top := range []byte{0x40, 0x80} {
		buffer := NewBytePacketBuffer()
		buffer.Buf[0] = top | 0x01
		if _, err := buffer.ReadName(); !errors.Is(err, ErrMalformedName) {
			t.Errorf("top bits %02x: expected ErrMalformedName, got %v", top, err)
		}
	}
}

func TestNameTooLongFails(t *testing.T) {
	label := strings.Repeat("a", 63)
	name := strings.Join([]string{label, label, label, label, label}, ".") + "."

	buffer := NewBytePacketBuffer()
	if err := buffer.WriteName(name); !errors.Is(err, ErrMalformedName) {
		t.Errorf("Expected ErrMalformedName for 5x63-octet name, got %v", err)
	}
}

func TestLabelTooLongFails(t *testing.T) {
	name := strings.Repeat("a", 64) + ".com."
	buffer := NewBytePacketBuffer()
	if err := buffer.WriteName(name); !errors.Is(err, ErrMalformedName) {
		t.Errorf("Expected ErrMalformedName for 64-octet label, got %v", err)
	}
}

func TestRootName(t *testing.T) {
	buffer := NewBytePacketBuffer()
	if err := buffer.WriteName("."); err != nil {
		t.Fatalf("write root: %v", err)
	}
	if buffer.Position() != 1 {
		t.Errorf("Root name should be 1 byte, got %d", buffer.Position())
	}
	_ = buffer.Seek(0)
	name, err := buffer.ReadName()
	if err != nil {
		t.Fatalf("read root: %v", err)
	}
	if name != "." {
		t.Errorf("Expected root, got %q", name)
	}
}

func TestCanonicalNameWrite(t *testing.T) {
	buffer := NewBytePacketBuffer()
	buffer.HasNames = true
	if err := buffer.WriteName("Example.COM."); err != nil {
		t.Fatalf("write: %v", err)
	}
	start := buffer.Position()
	if err := buffer.WriteCanonicalName("Example.COM."); err != nil {
		t.Fatalf("canonical write: %v", err)
	}
	// Canonical form never compresses and lowercases.
	if buffer.Position()-start != EncodedNameLength("example.com.") {
		t.Errorf("Canonical write must not compress")
	}
	_ = buffer.Seek(start)
	name, err := buffer.ReadName()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if name != "example.com." {
		t.Errorf("Expected lowercase canonical name, got %q", name)
	}
}
