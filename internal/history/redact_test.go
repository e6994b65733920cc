package history

import (
	"context"
	"strings"
	"testing"
)

func TestRedactPII(t *testing.T) {
	input := "Email me at sam@example.com or +1 (555) 123-9876 and use 4242 4242 4242 4242."
	out, changed := RedactPII(input)
	if !changed {
		t.Fatalf("changed = false, want true")
	}
	for _, marker := range []string{"[REDACTED_EMAIL]", "[REDACTED_PHONE]", "[REDACTED_CARD]"} {
		if !strings.Contains(out, marker) {
			t.Fatalf("output missing marker %q: %q", marker, out)
		}
	}

	if out, changed := RedactPII("Привет! Как ты?"); changed || out != "Привет! Как ты?" {
		t.Fatalf("RedactPII(plain) = %q, %v", out, changed)
	}
}

func TestRedactingStoreMasksBeforeAppend(t *testing.T) {
	ctx := context.Background()
	inner := NewInMemoryStore(0)
	store := NewRedactingStore(inner)

	if err := store.AppendTurn(ctx, "u1", "write to anya@example.com", RoleAssistant); err != nil {
		t.Fatalf("AppendTurn() error = %v", err)
	}
	turns, err := store.FetchRecentTurns(ctx, "u1", 5)
	if err != nil {
		t.Fatalf("FetchRecentTurns() error = %v", err)
	}
	if len(turns) != 1 || turns[0].Text != "write to [REDACTED_EMAIL]" {
		t.Fatalf("turns = %+v", turns)
	}
}
