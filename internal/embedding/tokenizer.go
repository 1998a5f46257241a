package embedding

import (
	"hash/fnv"

	"github.com/hyperjump/hubagent/pkg/utils"
)

const (
	clsToken   = 101
	sepToken   = 102
	vocabSpace = 30000
)

// Tokenizer produces token IDs for BERT-style models (input_ids, attention_mask, token_type_ids).
type Tokenizer interface {
	Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64)
}

// HashTokenizer maps lowercase word tokens to hashed vocabulary IDs.
// It is not a WordPiece tokenizer; models see a consistent but approximate vocabulary.
type HashTokenizer struct{}

// Tokenize produces [CLS] tokens... [SEP] padded to maxTokens.
func (t *HashTokenizer) Tokenize(text string, maxTokens int) (inputIDs, attentionMask, tokenTypeIDs []int64) {
	if maxTokens <= 2 {
		maxTokens = 256
	}
	inputIDs = make([]int64, maxTokens)
	attentionMask = make([]int64, maxTokens)
	tokenTypeIDs = make([]int64, maxTokens)

	inputIDs[0] = clsToken
	attentionMask[0] = 1
	pos := 1
	for _, word := range utils.Tokens(text) {
		if pos >= maxTokens-1 {
			break
		}
		inputIDs[pos] = int64(TokenID(word))
		attentionMask[pos] = 1
		pos++
	}
	inputIDs[pos] = sepToken
	attentionMask[pos] = 1
	return inputIDs, attentionMask, tokenTypeIDs
}

// TokenID returns a deterministic vocabulary ID above the special tokens.
func TokenID(word string) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(word))
	return 1000 + int(h.Sum32()%vocabSpace)
}
