package chat

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragcache/internal/retrieval"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
)

const instructions = `You answer questions about documents the user has uploaded, using the context passages below.

Rules:
- Answer from the provided context. The uploaded documents contain the information, so extract it even when a passage is partial or oddly formatted.
- For questions about authors, titles, abstracts or other metadata, check every passage before answering.
- Say you cannot find the information only after checking all of the context.
- When you use the context, end your answer with a "Sources:" list of (source, page) pairs.`

const noContextNote = `No context passages were retrieved for this question. The user has uploaded documents, so this is likely a retrieval problem. Answer from the conversation if you can, and otherwise suggest rephrasing the question or uploading the document again.`

// ChunkHeader renders the header line for the i-th (1-based) chunk.
func ChunkHeader(i int, c retrieval.Chunk) string {
	source := c.Source
	if source == "" {
		source = "unknown"
	}
	page := "n/a"
	if c.Page != nil {
		page = fmt.Sprint(*c.Page)
	}
	return fmt.Sprintf("[Chunk %d] source=%s page=%s (relevance: %.3f)", i, source, page, c.Score)
}

// SystemPrompt builds the system instruction for the retrieved chunks.
func SystemPrompt(chunks []retrieval.Chunk) string {
	var b strings.Builder
	b.WriteString(instructions)
	b.WriteString("\n\n")

	if len(chunks) == 0 {
		b.WriteString(noContextNote)
		return b.String()
	}

	fmt.Fprintf(&b, "Context (%d passages):\n\n", len(chunks))
	for i, c := range chunks {
		if i > 0 {
			b.WriteString("\n\n")
		}
		b.WriteString(ChunkHeader(i+1, c))
		b.WriteByte('\n')
		b.WriteString(c.Text)
	}
	return b.String()
}

// Citations converts chunks to their wire form.
func Citations(chunks []retrieval.Chunk) []semcache.Citation {
	out := make([]semcache.Citation, len(chunks))
	for i, c := range chunks {
		source := c.Source
		if source == "" {
			source = "unknown"
		}
		out[i] = semcache.Citation{
			ID:     c.ID,
			Source: source,
			Page:   c.Page,
			Score:  float64(c.Score),
		}
	}
	return out
}
