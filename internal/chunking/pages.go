package chunking

import "strings"

// pageBreak separates pages in text extracted by pdftotext and similar tools.
const pageBreak = "\f"

// TextChunk is one indexable window and the 1-based page it came from.
// Page is nil when the source had no page structure.
type TextChunk struct {
	Text string `json:"text" validate:"required,min=1"`
	Page *int   `json:"page,omitempty" validate:"omitempty,gt=0"`
}

// Page is a page of extracted text.
type Page struct {
	Number int
	Text   string
}

// SplitPages splits text on form feeds. Blank pages are dropped but keep
// their numbering.
func SplitPages(text string) []Page {
	raw := strings.Split(text, pageBreak)
	pages := make([]Page, 0, len(raw))
	for i, p := range raw {
		if strings.TrimSpace(p) == "" {
			continue
		}
		pages = append(pages, Page{Number: i + 1, Text: p})
	}
	return pages
}

// ChunkPages chunks each page independently. Pages are only attached when
// the text contained at least one page break.
func ChunkPages(text string, opts Options) ([]TextChunk, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	paged := strings.Contains(text, pageBreak)
	var out []TextChunk
	for _, p := range SplitPages(text) {
		windows, err := Chunk(p.Text, opts)
		if err != nil {
			return nil, err
		}
		for _, w := range windows {
			tc := TextChunk{Text: w}
			if paged {
				n := p.Number
				tc.Page = &n
			}
			out = append(out, tc)
		}
	}
	return out, nil
}
