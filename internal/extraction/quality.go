package extraction

import (
	"bytes"
	"strings"
)

// scriptCoverageThreshold is the percentage of a document occupied by script
// tags above which the page is treated as script-rendered.
const scriptCoverageThreshold = 25

var appShellMarkers = [][]byte{
	[]byte("__next"),
	[]byte(`id="root"`),
	[]byte(`id="app"`),
	[]byte("data-reactroot"),
}

// ScriptRendered reports whether an archived document looks like a
// client-side app shell rather than server-rendered content. Snapshots of
// such pages rarely contain the article body, so extraction output should
// be treated with suspicion even when a strategy succeeds.
func ScriptRendered(body []byte) bool {
	if len(body) == 0 {
		return true
	}
	for _, marker := range appShellMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return scriptCoverage(body) >= scriptCoverageThreshold
}

// scriptCoverage returns the percentage of the document covered by script
// elements, counting unterminated tags to the end of the document.
func scriptCoverage(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0

	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel

		tagClose := strings.IndexByte(lower[start:], '>')
		if tagClose == -1 {
			covered += total - start
			break
		}
		contentStart := start + tagClose + 1

		relEnd := strings.Index(lower[contentStart:], closeTag)
		var next int
		if relEnd == -1 {
			next = total
		} else {
			next = contentStart + relEnd + len(closeTag)
		}

		covered += next - start
		pos = next
	}

	return covered * 100 / total
}
