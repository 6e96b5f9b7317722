package extract

import "strings"

// sentenceSearchWindow bounds how far back from a window edge we look
// for a sentence terminator before giving up and cutting mid-sentence.
const sentenceSearchWindow = 100

// ChunkText splits text into overlapping chunks of at most chunkSize
// characters. When a window edge falls inside the text, the cut point
// is pulled back to the nearest sentence terminator within
// sentenceSearchWindow characters so chunks tend to end on sentence
// boundaries. Consecutive chunks overlap by overlap characters to keep
// context continuity for embeddings that straddle a boundary.
//
// Empty and whitespace-only input yields no chunks. Whitespace-only
// windows are skipped rather than emitted.
func ChunkText(text string, chunkSize, overlap int) []string {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return nil
	}

	runes := []rune(trimmed)
	if len(runes) <= chunkSize {
		return []string{trimmed}
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + chunkSize
		if end < len(runes) {
			end = sentenceBoundary(runes, start, end)
		}

		sliceEnd := end
		if sliceEnd > len(runes) {
			sliceEnd = len(runes)
		}
		chunk := strings.TrimSpace(string(runes[start:sliceEnd]))
		if chunk != "" {
			chunks = append(chunks, chunk)
		}

		next := end - overlap
		// The boundary search can pull end back far enough that
		// end-overlap lands at or before the current start when overlap
		// crowds the window size. Advance to the cut point instead of
		// looping in place.
		if next <= start {
			next = end
		}
		start = next
		// Load-bearing termination check: the boundary search can move
		// end backward, so the loop condition alone is not enough.
		if start >= len(runes) {
			break
		}
	}

	return chunks
}

// sentenceBoundary searches backward from end for a sentence-terminal
// character and returns the position just after it, or end unchanged if
// none is found within the search window.
func sentenceBoundary(runes []rune, start, end int) int {
	limit := end - sentenceSearchWindow
	if limit < start {
		limit = start
	}
	for i := end; i > limit; i-- {
		switch runes[i-1] {
		case '.', '!', '?':
			return i
		}
	}
	return end
}
