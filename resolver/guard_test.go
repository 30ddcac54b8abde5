package resolver

import (
	"errors"
	"testing"

	"github.com/atlasdns/atlas/packet"
)

func TestQueryStackDetectsLoop(t *testing.T) {
	stack := newQueryStack()
	release, err := stack.push("a.example.", packet.A, packet.ClassINET)
	if err != nil {
		t.Fatalf("first push: %v", err)
	}

	if _, err := stack.push("a.example.", packet.A, packet.ClassINET); !errors.Is(err, ErrLoopDetected) {
		t.Errorf("Expected ErrLoopDetected, got %v", err)
	}

	// Case differences do not hide a loop.
	if _, err := stack.push("A.EXAMPLE.", packet.A, packet.ClassINET); !errors.Is(err, ErrLoopDetected) {
		t.Errorf("Expected case-insensitive loop detection, got %v", err)
	}

	// Different type or class is a different triple.
	release2, err := stack.push("a.example.", packet.AAAA, packet.ClassINET)
	if err != nil {
		t.Errorf("Different type must be allowed: %v", err)
	}
	release2()

	release()
	release3, err := stack.push("a.example.", packet.A, packet.ClassINET)
	if err != nil {
		t.Errorf("Released slot must be reusable: %v", err)
	}
	release3()
}
