// Package utils provides tiktoken-based token counting.
package utils

import (
	"fmt"
	"sync"

	"github.com/tiktoken-go/tokenizer"
)

// TokenCounter estimates token counts. Every backend is approximated with the
// cl100k encoding; counts are for logs and metrics, not billing.
type TokenCounter struct {
	codec tokenizer.Codec
}

// NewTokenCounter creates a counter using the GPT-4 encoding.
func NewTokenCounter() (*TokenCounter, error) {
	codec, err := tokenizer.ForModel(tokenizer.GPT4)
	if err != nil {
		return nil, fmt.Errorf("failed to create tokenizer codec: %w", err)
	}
	return &TokenCounter{codec: codec}, nil
}

// CountTokens returns the number of tokens in text.
func (tc *TokenCounter) CountTokens(text string) int {
	if tc == nil || tc.codec == nil {
		return len(text) / 4
	}
	count, err := tc.codec.Count(text)
	if err != nil {
		return len(text) / 4
	}
	return count
}

var (
	sharedOnce    sync.Once
	sharedCounter *TokenCounter
)

// CountTokensSimple counts tokens with a lazily built shared counter,
// falling back to a 4-chars-per-token estimate.
func CountTokensSimple(text string) int {
	sharedOnce.Do(func() {
		sharedCounter, _ = NewTokenCounter()
	})
	return sharedCounter.CountTokens(text)
}
