package history

import (
	"context"
	"regexp"
)

var (
	emailPattern = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern  = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
)

// RedactPII masks email addresses, card numbers and phone numbers.
func RedactPII(input string) (redacted string, changed bool) {
	out := emailPattern.ReplaceAllString(input, "[REDACTED_EMAIL]")
	// Cards first, or long digit runs would be taken for phone numbers.
	out = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	out = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	return out, out != input
}

// RedactingStore masks PII in every turn before it reaches the wrapped store.
type RedactingStore struct {
	Store
}

func NewRedactingStore(s Store) *RedactingStore {
	return &RedactingStore{Store: s}
}

func (s *RedactingStore) AppendTurn(ctx context.Context, userID, text string, role Role) error {
	redacted, _ := RedactPII(text)
	return s.Store.AppendTurn(ctx, userID, redacted, role)
}
