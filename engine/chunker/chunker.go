// Package chunker splits extracted document text into overlapping,
// token-budgeted passages ready for embedding. Each chunk carries a single
// page number for citations. A page's trailing leftover shorter than
// MinCarryoverChars is not emitted on its own: it is prepended to the next
// page's first chunk, which carries that next page's number.
package chunker

import (
	"strings"
	"unicode"

	"github.com/mevzuatgpt/mevzuatgpt-server/engine/domain"
	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/tokencount"
)

const (
	// DefaultChunkSize is the target number of tokens per chunk.
	DefaultChunkSize = 512
	// DefaultOverlap is the number of overlapping tokens carried into the
	// next chunk.
	DefaultOverlap = 64
	// MinCarryoverChars is the minimum amount of trailing text from a page
	// that gets folded into the next page's first chunk rather than
	// emitted as its own tiny chunk.
	MinCarryoverChars = 40
	// AvgCharsPerToken approximates cl100k_base's characters-per-token
	// ratio, used to convert spec.md's character-denominated chunk-size
	// config into the token budget chunkSentences enforces.
	AvgCharsPerToken = 4
)

// TokensForChars converts a character budget into an approximate token
// budget using AvgCharsPerToken, so callers can wire a char-denominated
// config value (e.g. cfg.Chunking.TargetChars) into Options.ChunkSize or
// Options.Overlap, both of which chunkSentences budgets in tokens.
func TokensForChars(chars int) int {
	if chars <= 0 {
		return 0
	}
	tokens := chars / AvgCharsPerToken
	if tokens < 1 {
		tokens = 1
	}
	return tokens
}

// Page is one page of extracted text, numbered from 1.
type Page struct {
	Number int
	Text   string
}

// Chunk is a single chunking result, with enough position data to build a
// domain.Passage and a citation anchor.
type Chunk struct {
	Text      string
	Index     int
	Page      int
	LineStart int
	LineEnd   int
}

// Options configures chunk size and overlap, both counted in tokens by
// Counter. Zero values fall back to the package defaults.
type Options struct {
	ChunkSize int
	Overlap   int
	// MinCarryoverChars is the minimum character length a page's trailing
	// leftover text must reach before it is emitted as its own chunk
	// instead of being carried into the next page. Zero falls back to
	// MinCarryoverChars.
	MinCarryoverChars int
	// Counter counts tokens for the chunk-size and overlap budget. A nil
	// Counter falls back to tokencount.WordApprox, approximating tokens as
	// whitespace-delimited words.
	Counter tokencount.Counter
}

func (o Options) withDefaults() Options {
	if o.ChunkSize <= 0 {
		o.ChunkSize = DefaultChunkSize
	}
	if o.Overlap < 0 {
		o.Overlap = 0
	}
	if o.Overlap >= o.ChunkSize {
		o.Overlap = o.ChunkSize / 4
	}
	if o.MinCarryoverChars <= 0 {
		o.MinCarryoverChars = MinCarryoverChars
	}
	if o.Counter == nil {
		o.Counter = tokencount.WordApprox{}
	}
	return o
}

// ChunkPages splits the given pages into a deterministic, ordered slice of
// Chunks. It returns domain.ErrEmptyDocument if every page is blank after
// normalization.
func ChunkPages(pages []Page, opts Options) ([]Chunk, error) {
	opts = opts.withDefaults()

	var out []Chunk
	idx := 0
	var carry string
	var carryLineStart int

	for _, page := range pages {
		normalized := domain.NormalizeTurkish(page.Text)
		if normalized == "" {
			continue
		}
		lines := splitLines(page.Text)
		sentences := splitSentences(normalized)
		if carry != "" {
			sentences = append([]string{carry}, sentences...)
			carry = ""
		}

		pageChunks, leftover := chunkSentences(sentences, opts.ChunkSize, opts.Overlap, opts.Counter)
		for i := range pageChunks {
			pageChunks[i].Index = idx
			pageChunks[i].Page = page.Number
			start, end := estimateLineRange(lines, pageChunks[i].Text)
			pageChunks[i].LineStart = start
			pageChunks[i].LineEnd = end
			idx++
		}
		out = append(out, pageChunks...)

		if leftover != "" && opts.Counter.Count(leftover) > 0 && len(leftover) < opts.MinCarryoverChars {
			carry = leftover
			carryLineStart = len(lines)
			_ = carryLineStart
		} else if leftover != "" {
			start, end := estimateLineRange(lines, leftover)
			out = append(out, Chunk{Text: leftover, Index: idx, Page: page.Number, LineStart: start, LineEnd: end})
			idx++
		}
	}

	if carry != "" {
		out = append(out, Chunk{Text: carry, Index: idx, Page: pages[len(pages)-1].Number})
	}

	if len(out) == 0 {
		return nil, domain.ErrEmptyDocument
	}
	return out, nil
}

func splitLines(text string) []string {
	return strings.Split(text, "\n")
}

// estimateLineRange finds the first and last line of `text` within `lines`
// using longest-prefix matching on the first and last words. It is a best
// effort anchor for citations, not an exact reconstruction.
func estimateLineRange(lines []string, text string) (int, int) {
	if len(lines) == 0 || text == "" {
		return 0, 0
	}
	words := strings.Fields(text)
	if len(words) == 0 {
		return 0, 0
	}
	first, last := words[0], words[len(words)-1]

	start := 0
	for i, l := range lines {
		if strings.Contains(l, first) {
			start = i + 1
			break
		}
	}
	end := start
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.Contains(lines[i], last) {
			end = i + 1
			break
		}
	}
	if end < start {
		end = start
	}
	return start, end
}

// splitSentences splits text into sentences using punctuation and newlines.
func splitSentences(text string) []string {
	var sentences []string
	var current strings.Builder

	runes := []rune(text)
	for i, r := range runes {
		current.WriteRune(r)
		if r == '.' || r == '!' || r == '?' || r == '\n' {
			if r == '\n' || i == len(runes)-1 || (i+1 < len(runes) && unicode.IsSpace(runes[i+1])) {
				s := strings.TrimSpace(current.String())
				if s != "" {
					sentences = append(sentences, s)
				}
				current.Reset()
			}
		}
	}
	if s := strings.TrimSpace(current.String()); s != "" {
		sentences = append(sentences, s)
	}
	return sentences
}

// chunkSentences groups sentences into chunks of ~chunkSize tokens with
// overlap, counted by counter. It returns the chunks plus any trailing
// leftover text shorter than a full chunk, so the caller can decide
// whether to carry it into the next page.
func chunkSentences(sentences []string, chunkSize, overlap int, counter tokencount.Counter) ([]Chunk, string) {
	if len(sentences) == 0 {
		return nil, ""
	}

	var chunks []Chunk
	start := 0

	for start < len(sentences) {
		var buf strings.Builder
		tokens := 0
		end := start

		for end < len(sentences) {
			words := counter.Count(sentences[end])
			if tokens+words > chunkSize && tokens > 0 {
				break
			}
			if buf.Len() > 0 {
				buf.WriteRune(' ')
			}
			buf.WriteString(sentences[end])
			tokens += words
			end++
		}

		isLast := end == len(sentences)
		text := buf.String()

		if isLast && tokens < chunkSize/4 && len(chunks) > 0 {
			return chunks, text
		}

		chunks = append(chunks, Chunk{Text: text})

		overlapTokens := 0
		newStart := end
		for newStart > start && overlapTokens < overlap {
			newStart--
			overlapTokens += counter.Count(sentences[newStart])
		}
		if newStart == start {
			start = end
		} else {
			start = newStart
		}
	}
	return chunks, ""
}
