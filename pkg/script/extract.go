package script

import "strings"

var languageTags = map[string]struct{}{
	"python":  {},
	"python3": {},
	"py":      {},
	"bash":    {},
	"sh":      {},
}

// ExtractSource turns a model response into script source. Fenced blocks win
// (the longest one if several are present); otherwise stray backticks and a
// leading language tag are stripped. ok is false when nothing usable remains.
func ExtractSource(response string) (source string, ok bool) {
	text := strings.TrimSpace(response)
	if text == "" {
		return "", false
	}

	if blocks := fencedBlocks(text); len(blocks) > 0 {
		best := ""
		for _, block := range blocks {
			if len(strings.TrimSpace(block)) > len(best) {
				best = strings.TrimSpace(block)
			}
		}
		return best, best != ""
	}

	text = strings.Trim(text, "`")
	text = stripLanguageTag(text)
	text = strings.TrimSpace(text)
	return text, text != ""
}

func fencedBlocks(text string) []string {
	lines := strings.Split(text, "\n")

	var blocks []string
	var current strings.Builder
	inBlock := false
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") {
			if inBlock {
				blocks = append(blocks, current.String())
				current.Reset()
				inBlock = false
				continue
			}
			inBlock = true
			continue
		}
		if inBlock {
			current.WriteString(line)
			current.WriteString("\n")
		}
	}
	// Unterminated fence: keep what was collected.
	if inBlock && current.Len() > 0 {
		blocks = append(blocks, current.String())
	}
	return blocks
}

func stripLanguageTag(text string) string {
	first, rest, found := strings.Cut(text, "\n")
	if _, isTag := languageTags[strings.ToLower(strings.TrimSpace(first))]; isTag {
		if !found {
			return ""
		}
		return rest
	}
	return text
}
