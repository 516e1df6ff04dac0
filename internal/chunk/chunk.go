// Package chunk implements the document-splitting phase of the ingestion
// worker (§4.D phase 2), adapted from the word-count-approximation chunker
// used elsewhere in the retrieval pipeline, but operating on actual
// whitespace-separated words (as the spec requires) rather than a
// chars-per-token heuristic, and preferring sentence boundaries.
package chunk

import (
	"regexp"
	"strings"
)

// Chunk is one windowed, overlapping piece of the input document.
type Chunk struct {
	Index int
	Text  string
}

// Options controls target size and overlap, both in words (§3 Job.options,
// §4.D phase 2).
type Options struct {
	TargetWords  int
	OverlapWords int
}

// sentenceBoundaryRe matches the whitespace immediately following a
// sentence-ending punctuation mark, used to prefer cutting chunks at
// sentence boundaries "when detectable" (§4.D phase 2).
var sentenceBoundaryRe = regexp.MustCompile(`[.!?]["')\]]?\s+`)

// Split produces an ordered list of chunks per §4.D phase 2. Empty content
// yields zero chunks.
func Split(text string, opt Options) []Chunk {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	target := opt.TargetWords
	if target <= 0 {
		target = 1000
	}
	overlap := opt.OverlapWords
	if overlap < 0 || overlap >= target {
		overlap = 0
	}

	// sentenceEndsAfter[i] is true when word i is immediately followed
	// (in the original text) by a detected sentence boundary.
	sentenceEndsAfter := markSentenceBoundaries(text, words)

	var out []Chunk
	start := 0
	idx := 0
	for start < len(words) {
		end := start + target
		if end >= len(words) {
			end = len(words)
		} else {
			end = preferSentenceBoundary(sentenceEndsAfter, start, end, target)
		}

		chunkText := strings.Join(words[start:end], " ")
		out = append(out, Chunk{Index: idx, Text: chunkText})
		idx++

		if end >= len(words) {
			break
		}
		next := end - overlap
		if next <= start {
			next = end
		}
		start = next
	}
	return out
}

// preferSentenceBoundary looks backward from the naive cut point `end`
// (within the back half of the target window) for the nearest detected
// sentence end; if none is found, it falls back to the word boundary at
// `end` unchanged.
func preferSentenceBoundary(sentenceEndsAfter []bool, start, end, target int) int {
	minCut := start + target/2
	for i := end - 1; i >= minCut && i >= start; i-- {
		if i < len(sentenceEndsAfter) && sentenceEndsAfter[i] {
			return i + 1
		}
	}
	return end
}

// markSentenceBoundaries walks the original text once, recording which
// word index each sentence-ending match falls after.
func markSentenceBoundaries(text string, words []string) []bool {
	marks := make([]bool, len(words))
	locs := sentenceBoundaryRe.FindAllStringIndex(text, -1)
	if len(locs) == 0 {
		return marks
	}

	// Walk words alongside byte offsets to map each boundary match to a
	// word index.
	offset := 0
	wordEnd := make([]int, len(words))
	for i, w := range words {
		idx := strings.Index(text[offset:], w)
		if idx < 0 {
			break
		}
		offset += idx + len(w)
		wordEnd[i] = offset
	}

	locIdx := 0
	for i := range words {
		for locIdx < len(locs) && locs[locIdx][1] < wordEnd[i] {
			locIdx++
		}
		if locIdx < len(locs) && locs[locIdx][0] < wordEnd[i] && wordEnd[i] <= locs[locIdx][1] {
			marks[i] = true
		}
	}
	return marks
}
