// Package chunker splits document text into overlapping, token-bounded
// chunks. Splitting is a pure function of (text, options): the same input
// always produces the same chunk sequence, and concatenating each chunk's
// non-overlap span (the text after the Overlap prefix) reconstructs the
// original text byte for byte.
package chunker

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"unicode"
	"unicode/utf8"
)

type Options struct {
	// TokenChunkSize is the target tokens per chunk.
	TokenChunkSize int
	// ChunkOverlap is the tokens shared between consecutive chunks.
	ChunkOverlap int
	// MaxTokens is the hard per-chunk ceiling, overlap included.
	MaxTokens int
}

func DefaultOptions() Options {
	return Options{
		TokenChunkSize: 256,
		ChunkOverlap:   24,
		MaxTokens:      512,
	}
}

type Chunk struct {
	ID    string
	Index int
	// Text is a verbatim slice of the input, overlap prefix included.
	Text string
	// Overlap is the byte length of the prefix shared with the previous chunk.
	Overlap int
}

// tokens-per-word estimate; English text runs roughly 1.3 tokens per word.
const tokensPerWord = 1.3

// EstimateTokens approximates the token count of text from its word count.
func EstimateTokens(text string) int {
	return int(float64(len(scanWords(text)))*tokensPerWord + 0.5)
}

type wordSpan struct {
	start int
	end   int
	// sentenceEnd marks a word that closes a sentence or paragraph,
	// the preferred place to cut.
	sentenceEnd bool
}

// SplitText splits text into chunks per opts. Empty or whitespace-only
// input yields no chunks.
func SplitText(text string, opts Options) []Chunk {
	if opts.TokenChunkSize <= 0 {
		opts.TokenChunkSize = DefaultOptions().TokenChunkSize
	}
	if opts.ChunkOverlap < 0 {
		opts.ChunkOverlap = 0
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultOptions().MaxTokens
	}
	if opts.MaxTokens < opts.TokenChunkSize {
		opts.MaxTokens = opts.TokenChunkSize
	}

	words := scanWords(text)
	if len(words) == 0 {
		return nil
	}

	targetWords := wordBudget(opts.TokenChunkSize)
	overlapWords := wordBudget(opts.ChunkOverlap)
	maxWords := wordBudget(opts.MaxTokens)
	if targetWords < 1 {
		targetWords = 1
	}
	// Body words per chunk leave room for the overlap prefix under MaxTokens.
	bodyBudget := targetWords
	if overlapWords+bodyBudget > maxWords {
		bodyBudget = maxWords - overlapWords
		if bodyBudget < 1 {
			bodyBudget = 1
			overlapWords = maxWords - 1
			if overlapWords < 0 {
				overlapWords = 0
			}
		}
	}

	var chunks []Chunk
	cut := 0 // byte offset where the previous chunk's non-overlap span ended
	i := 0   // index of the first word not yet covered
	for i < len(words) {
		end := i + bodyBudget
		if end > len(words) {
			end = len(words)
		} else {
			end = preferBoundary(words, i, end)
		}

		overlapStart := i - overlapWords
		if overlapStart < 0 {
			overlapStart = 0
		}
		textStart := words[overlapStart].start
		if textStart > cut {
			textStart = cut
		}
		textEnd := words[end-1].end
		if end == len(words) {
			textEnd = len(text)
		}

		body := text[textStart:textEnd]
		chunk := Chunk{
			Index:   len(chunks),
			Text:    body,
			Overlap: cut - textStart,
		}
		chunk.ID = ChunkID(chunk.Index, chunk.Text)
		chunks = append(chunks, chunk)

		cut = textEnd
		i = end
	}
	return chunks
}

// ChunkID derives a stable id from the chunk position and text.
func ChunkID(index int, text string) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%d:%s", index, text)))
	return hex.EncodeToString(sum[:])
}

func wordBudget(tokens int) int {
	return int(float64(tokens) / tokensPerWord)
}

// preferBoundary walks back from the proposed cut looking for a sentence or
// paragraph end, so chunks tend to close on natural boundaries. The search
// window is a quarter of the body to avoid degenerate short chunks.
func preferBoundary(words []wordSpan, start, end int) int {
	window := (end - start) / 4
	for j := end - 1; j > end-1-window && j > start; j-- {
		if words[j].sentenceEnd {
			return j + 1
		}
	}
	return end
}

func scanWords(text string) []wordSpan {
	var words []wordSpan
	inWord := false
	start := 0
	flush := func(end int) {
		if !inWord {
			return
		}
		w := wordSpan{start: start, end: end}
		last, _ := utf8.DecodeLastRuneInString(text[:end])
		switch last {
		case '.', '!', '?', ':', ';', '。', '！', '？', '：', '；':
			w.sentenceEnd = true
		}
		words = append(words, w)
		inWord = false
	}
	for i, r := range text {
		if unicode.IsSpace(r) {
			flush(i)
			if r == '\n' && len(words) > 0 {
				words[len(words)-1].sentenceEnd = true
			}
			continue
		}
		if !inWord {
			inWord = true
			start = i
		}
	}
	flush(len(text))
	return words
}
