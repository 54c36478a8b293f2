// Package tokencount counts tokens the way the models this service calls
// actually tokenize text, wrapping the same cl100k_base BPE encoding
// aqua777-ai-nexus's TikTokenTokenizer wraps for splitter token budgets.
package tokencount

import (
	"strings"

	"github.com/pkoukk/tiktoken-go"
)

// Counter counts the tokens a prompt or passage would cost a model.
type Counter interface {
	Count(text string) int
}

// tiktokenCounter counts tokens via the real cl100k_base BPE encoding
// shared by the embedding model and both chat providers this service calls.
type tiktokenCounter struct {
	enc *tiktoken.Tiktoken
}

// New builds a Counter backed by tiktoken's cl100k_base encoding. It
// returns an error if the encoding's merge-rank table cannot be loaded.
func New() (Counter, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, err
	}
	return &tiktokenCounter{enc: enc}, nil
}

func (c *tiktokenCounter) Count(text string) int {
	return len(c.enc.Encode(text, nil, nil))
}

// WordApprox counts whitespace-delimited words as a stand-in token count.
// Chunker and Composer fall back to it when the real encoding could not be
// loaded, so chunk-size and token-budget checks degrade to an
// approximation rather than failing outright.
type WordApprox struct{}

func (WordApprox) Count(text string) int { return len(strings.Fields(text)) }
