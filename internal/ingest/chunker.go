package ingest

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// DefaultMaxChunkChars bounds a chunk so it stays useful as a retrieval
	// unit and fits comfortably in an embedding request.
	DefaultMaxChunkChars = 1600

	// DefaultOverlapChars is carried from the end of one split chunk into
	// the next so sentences cut at a boundary stay findable.
	DefaultOverlapChars = 200
)

var headingPattern = regexp.MustCompile(`^(#{1,6})\s+(.*)$`)

// Piece is one chunk of a note body: the content plus the heading it
// appeared under.
type Piece struct {
	Heading string
	Content string
}

// Chunker splits note bodies at markdown headings, further dividing
// oversized sections at paragraph boundaries with overlap.
type Chunker struct {
	maxChars int
	overlap  int
}

func NewChunker() *Chunker {
	return &Chunker{maxChars: DefaultMaxChunkChars, overlap: DefaultOverlapChars}
}

// NewChunkerWithLimits overrides the size and overlap bounds. Zero or
// negative values fall back to the defaults.
func NewChunkerWithLimits(maxChars, overlap int) *Chunker {
	c := NewChunker()
	if maxChars > 0 {
		c.maxChars = maxChars
	}
	if overlap > 0 && overlap < c.maxChars {
		c.overlap = overlap
	}
	return c
}

// Chunk splits body into pieces. Each heading starts a new section; a
// section larger than the limit is split at paragraph boundaries. Empty
// sections produce no pieces.
func (c *Chunker) Chunk(body string) []Piece {
	var pieces []Piece
	var heading string
	var section strings.Builder

	flush := func() {
		text := strings.TrimSpace(section.String())
		section.Reset()
		if text == "" {
			return
		}
		for _, part := range c.splitSection(text) {
			pieces = append(pieces, Piece{Heading: heading, Content: part})
		}
	}

	for _, line := range strings.Split(body, "\n") {
		if m := headingPattern.FindStringSubmatch(line); m != nil {
			flush()
			heading = strings.TrimSpace(m[2])
			continue
		}
		section.WriteString(line)
		section.WriteByte('\n')
	}
	flush()

	return pieces
}

// splitSection packs paragraphs into chunks up to maxChars, carrying an
// overlap tail across the split. A single paragraph over the limit is hard
// split.
func (c *Chunker) splitSection(text string) []string {
	if len(text) <= c.maxChars {
		return []string{text}
	}

	var chunks []string
	var current strings.Builder

	emit := func() {
		chunk := strings.TrimSpace(current.String())
		current.Reset()
		if chunk == "" {
			return
		}
		chunks = append(chunks, chunk)
		if tail := overlapTail(chunk, c.overlap); tail != "" {
			current.WriteString(tail)
			current.WriteString("\n\n")
		}
	}

	for _, para := range strings.Split(text, "\n\n") {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}
		if len(para) > c.maxChars {
			if strings.TrimSpace(current.String()) != "" {
				emit()
			}
			current.Reset()
			for len(para) > c.maxChars {
				cut := floorRuneBoundary(para, c.maxChars)
				if cut == 0 {
					break
				}
				chunks = append(chunks, strings.TrimSpace(para[:cut]))
				start := floorRuneBoundary(para, cut-c.overlap)
				if start <= 0 {
					start = cut
				}
				para = para[start:]
			}
		}
		if current.Len() > 0 && current.Len()+len(para)+2 > c.maxChars {
			emit()
		}
		if current.Len() > 0 {
			current.WriteString("\n\n")
		}
		current.WriteString(para)
	}
	if strings.TrimSpace(current.String()) != "" {
		chunks = append(chunks, strings.TrimSpace(current.String()))
	}

	return chunks
}

// overlapTail returns the last n characters of text, extended back to the
// nearest word boundary.
func overlapTail(text string, n int) string {
	if n <= 0 || len(text) <= n {
		return ""
	}
	start := floorRuneBoundary(text, len(text)-n)
	if start == 0 {
		return ""
	}
	tail := text[start:]
	if prev := text[start-1]; prev != ' ' && prev != '\n' && prev != '\t' {
		// The cut landed mid-word; skip the partial word.
		if idx := strings.IndexAny(tail, " \n\t"); idx >= 0 {
			tail = tail[idx+1:]
		}
	}
	return strings.TrimSpace(tail)
}

// floorRuneBoundary returns the largest offset at or below i that starts
// a rune, so byte-offset cuts never split a multibyte character.
func floorRuneBoundary(s string, i int) int {
	if i < 0 {
		return 0
	}
	for i > 0 && !utf8.RuneStart(s[i]) {
		i--
	}
	return i
}
