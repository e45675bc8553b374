package kb

import (
	"fmt"
	"strings"
)

// Chunk is an embeddable slice of a document.
type Chunk struct {
	ID        string    `json:"id"`
	Source    string    `json:"source"`
	Heading   string    `json:"heading,omitempty"`
	Text      string    `json:"text"`
	Embedding []float64 `json:"-"`
}

// Chunker splits documents into overlapping windows of at most Size
// characters. Markdown headings start a new section and are carried on each
// chunk of that section.
type Chunker struct {
	Size    int
	Overlap int
}

type section struct {
	heading string
	body    string
}

func (c Chunker) Split(doc Document) []Chunk {
	size := c.Size
	if size <= 0 {
		size = 800
	}
	overlap := c.Overlap
	if overlap < 0 || overlap >= size {
		overlap = 0
	}

	var chunks []Chunk
	for _, sec := range splitSections(doc.Text) {
		for _, window := range windows(sec.body, size, overlap) {
			text := window
			if sec.heading != "" {
				text = sec.heading + "\n" + window
			}
			chunks = append(chunks, Chunk{
				ID:      fmt.Sprintf("%s#%d", doc.Source, len(chunks)),
				Source:  doc.Source,
				Heading: sec.heading,
				Text:    text,
			})
		}
	}
	return chunks
}

func splitSections(text string) []section {
	var sections []section
	current := section{}
	var body strings.Builder

	flush := func() {
		current.body = strings.TrimSpace(body.String())
		if current.body != "" {
			sections = append(sections, current)
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			flush()
			current = section{heading: strings.TrimSpace(strings.TrimLeft(trimmed, "#"))}
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return sections
}

// windows cuts text on word boundaries. Consecutive windows share roughly
// overlap characters.
func windows(text string, size, overlap int) []string {
	words := strings.Fields(text)
	if len(words) == 0 {
		return nil
	}

	var out []string
	start := 0
	for start < len(words) {
		length := 0
		end := start
		for end < len(words) {
			add := len(words[end])
			if end > start {
				add++
			}
			if length+add > size && end > start {
				break
			}
			length += add
			end++
		}
		out = append(out, strings.Join(words[start:end], " "))
		if end >= len(words) {
			break
		}

		// Step back over whole words until the overlap is covered.
		next := end
		back := 0
		for next > start+1 && back < overlap {
			next--
			back += len(words[next]) + 1
		}
		start = next
	}
	return out
}
