package repair

import (
	"fmt"
	"strings"
)

// SystemPrompt is the stage-agnostic instruction given to the repair oracle.
const SystemPrompt = `You are an expert programmer who repairs failing scripts.
You are given the full source of a script and the error output it produced.
Return the complete corrected script so it runs without error while preserving its original intent.
Do not explain the fix. Return only the script source.`

// BuildPrompt pairs the failing source with its diagnostic output verbatim.
func BuildPrompt(source, diagnostic string) string {
	var sb strings.Builder

	sb.WriteString("The following script failed when executed:\n\n")
	sb.WriteString("---\n")
	sb.WriteString(source)
	if !strings.HasSuffix(source, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")

	sb.WriteString("Error output:\n")
	sb.WriteString("---\n")
	sb.WriteString(diagnostic)
	if !strings.HasSuffix(diagnostic, "\n") {
		sb.WriteString("\n")
	}
	sb.WriteString("---\n\n")

	sb.WriteString(fmt.Sprintf("Fix the error and return the complete corrected script (%d lines in the original).", lineCount(source)))

	return sb.String()
}

func lineCount(s string) int {
	if s == "" {
		return 0
	}
	return strings.Count(strings.TrimSuffix(s, "\n"), "\n") + 1
}
