package llm

import (
	"context"
)

// Buffered turns a Completer into a Provider by replaying its complete answer
// as phrase-sized fragments.
type Buffered struct {
	Completer
	minChars int
}

func NewBuffered(c Completer, minChars int) *Buffered {
	return &Buffered{Completer: c, minChars: minChars}
}

func (b *Buffered) StreamChat(ctx context.Context, req ChatRequest, onDelta DeltaHandler) (ChatResponse, error) {
	resp, err := b.Chat(ctx, req)
	if err != nil {
		return ChatResponse{}, err
	}
	if onDelta == nil {
		return resp, nil
	}

	chunker := newPhraseChunker(b.minChars)
	fragments := append(chunker.Consume(resp.Text), chunker.Finalize()...)
	for _, f := range fragments {
		if err := ctx.Err(); err != nil {
			return ChatResponse{}, err
		}
		if err := onDelta(f); err != nil {
			return ChatResponse{}, err
		}
	}
	return resp, nil
}
