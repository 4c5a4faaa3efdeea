package ingest

import (
	"regexp"
	"strings"
)

// Blocks are separated by two or more consecutive newlines. This is a
// heuristic question-boundary detector, documented as such: documents that
// run questions together without blank lines come out as one block for the
// author to split by hand.
var blockSep = regexp.MustCompile(`\n[\t ]*\n+`)

// SplitBlocks splits extracted text into candidate question blocks on
// blank-line boundaries, trimming each block and discarding empty ones.
func SplitBlocks(text string) []string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	var blocks []string
	for _, b := range blockSep.Split(text, -1) {
		b = strings.TrimSpace(b)
		if b == "" {
			continue
		}
		blocks = append(blocks, b)
	}
	return blocks
}
