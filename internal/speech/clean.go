package speech

import (
	"regexp"
	"strings"
)

var (
	codeFence  = regexp.MustCompile("```[a-zA-Z]*")
	inlineCode = regexp.MustCompile("`([^`]*)`")
	mdLink     = regexp.MustCompile(`\[([^\]]*)\]\([^)]*\)`)
	listMarker = regexp.MustCompile(`^(\s*)([-*+]|\d+\.)\s+`)
	spaces     = regexp.MustCompile(`[ \t]+`)
)

// Spoken forms for abbreviations common in triage replies.
var abbreviations = map[string]string{
	"e.g.": "for example",
	"i.e.": "that is",
	"etc.": "etcetera",
	"vs.":  "versus",
	"asap": "as soon as possible",
	"er":   "emergency room",
	"ed":   "emergency department",
	"gp":   "general practitioner",
	"bp":   "blood pressure",
	"hr":   "heart rate",
	"hrs":  "hours",
	"mins": "minutes",
}

// CleanText strips markdown and expands abbreviations so the voice reads
// naturally.
func CleanText(text string) string {
	text = codeFence.ReplaceAllString(text, "")
	text = inlineCode.ReplaceAllString(text, "$1")
	text = mdLink.ReplaceAllString(text, "$1")
	text = strings.ReplaceAll(text, "**", "")
	text = strings.ReplaceAll(text, "__", "")
	text = strings.ReplaceAll(text, "*", "")

	lines := strings.Split(text, "\n")
	kept := lines[:0]
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "#") {
			line = strings.TrimSpace(strings.TrimLeft(line, "#"))
		}
		line = listMarker.ReplaceAllString(line, "$1")
		if line != "" {
			kept = append(kept, line)
		}
	}
	text = strings.Join(kept, "\n")

	return strings.TrimSpace(spaces.ReplaceAllString(expandAbbreviations(text), " "))
}

func expandAbbreviations(text string) string {
	lines := strings.Split(text, "\n")
	for li, line := range lines {
		words := strings.Fields(line)
		for i, word := range words {
			lower := strings.ToLower(word)
			if expansion, ok := abbreviations[lower]; ok {
				words[i] = expansion
				continue
			}
			trimmed := strings.TrimRight(lower, ".,!?;:")
			if expansion, ok := abbreviations[trimmed]; ok {
				words[i] = expansion + word[len(trimmed):]
			}
		}
		lines[li] = strings.Join(words, " ")
	}
	return strings.Join(lines, "\n")
}
