package services

import (
	"strings"

	"github.com/covehq/cove/internal/domain/entities"
)

// fuzzyBlockPrefixLen is how many leading characters of the last block are
// compared when an incoming accumulation doesn't match it exactly. The
// gateway occasionally resends a slightly adjusted accumulation; matching on
// a short fixed prefix tolerates that without treating it as a new block.
// Empirical constant, kept tunable.
const fuzzyBlockPrefixLen = 30

// MergeDeltaText folds an incoming text accumulation into the buffer built
// so far. The gateway sends accumulated text per logical block and resets
// the accumulation to empty whenever a tool call interrupts generation, so
// a single growing buffer has to be reconstructed here.
//
// lastBlockStart is the offset where the most recent block begins; zero or
// negative means unknown. The returned offset carries the same meaning.
//
// Rules, first match wins:
//  1. no existing content: newText is the buffer
//  2. newText extends the whole buffer: replace
//  3. newText extends the last block (exactly, or by fuzzy prefix):
//     keep the base, replace the last block
//  4. otherwise newText opens a new block after a separator
func MergeDeltaText(existing, newText string, lastBlockStart int) (string, int) {
	if existing == "" {
		return newText, lastBlockStart
	}

	if strings.HasPrefix(newText, existing) {
		return newText, lastBlockStart
	}

	if lastBlockStart > 0 && lastBlockStart <= len(existing) {
		base := existing[:lastBlockStart]
		lastBlock := existing[lastBlockStart:]

		if strings.HasPrefix(newText, lastBlock) {
			return base + newText, lastBlockStart
		}

		probeLen := min(fuzzyBlockPrefixLen, len(lastBlock))
		if probeLen > 0 && strings.HasPrefix(newText, lastBlock[:probeLen]) {
			return base + newText, lastBlockStart
		}
	}

	// New block following a tool call.
	newStart := len(existing) + len(entities.TextBlockSeparator)
	return existing + entities.TextBlockSeparator + newText, newStart
}
