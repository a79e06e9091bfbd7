// Package chunk splits long source text into overlapping windows small
// enough for a single LLM extraction call, preserving paragraph boundaries
// where possible.
package chunk

import (
	"strconv"
	"strings"
)

const (
	maxTokens        = 3000
	overlapTokens     = 200
	tokenEstimateChars = 4
)

// Chunk is a slice of a larger document alongside the synthetic source
// identity it should be stored and extracted under.
type Chunk struct {
	Index  int
	Text   string
	Source string
}

// estimateTokens approximates a token count from character length, the same
// rough heuristic (len(text)/4) used throughout the pipeline wherever a real
// tokenizer would be overkill.
func estimateTokens(text string) int {
	return len(text) / tokenEstimateChars
}

// Split divides text into chunks when it exceeds the token threshold.
// Single-chunk documents are returned as one Chunk whose source is
// unmodified; multi-chunk documents get sources suffixed "_chunk_{i}".
func Split(text, source string) []Chunk {
	if estimateTokens(text) <= maxTokens {
		return []Chunk{{Index: 0, Text: text, Source: source}}
	}

	maxChars := maxTokens * tokenEstimateChars
	overlapChars := overlapTokens * tokenEstimateChars

	var chunks []Chunk
	start := 0
	idx := 0
	for start < len(text) {
		end := start + maxChars
		if end >= len(text) {
			end = len(text)
		} else {
			end = paragraphBoundary(text, start, end)
		}

		chunks = append(chunks, Chunk{
			Index:  idx,
			Text:   strings.TrimSpace(text[start:end]),
			Source: chunkSource(source, idx),
		})
		idx++

		if end >= len(text) {
			break
		}
		next := end - overlapChars
		if next <= start {
			next = end
		}
		start = next
	}
	return chunks
}

// paragraphBoundary looks backward from end (within [start, end]) for the
// nearest blank-line or sentence break, falling back to end itself if none
// is found within a reasonable search window.
func paragraphBoundary(text string, start, end int) int {
	const searchWindow = 400
	lo := end - searchWindow
	if lo < start {
		lo = start
	}

	if i := strings.LastIndex(text[lo:end], "\n\n"); i >= 0 {
		return lo + i + 2
	}
	if i := strings.LastIndex(text[lo:end], ". "); i >= 0 {
		return lo + i + 2
	}
	if i := strings.LastIndex(text[lo:end], "\n"); i >= 0 {
		return lo + i + 1
	}
	return end
}

func chunkSource(source string, index int) string {
	return source + "_chunk_" + strconv.Itoa(index)
}
