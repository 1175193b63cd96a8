// Package chunking splits document text into overlapping windows for indexing.
package chunking

import (
	"fmt"
	"strings"
)

const (
	// DefaultSize is the window length in characters.
	DefaultSize = 900
	// DefaultOverlap is the number of characters shared by adjacent windows.
	DefaultOverlap = 150
)

// Options controls window size and overlap. A Size of zero or less disables
// splitting.
type Options struct {
	Size    int `koanf:"size"`
	Overlap int `koanf:"overlap"`
}

// DefaultOptions returns the 900/150 window used for ingestion.
func DefaultOptions() Options {
	return Options{Size: DefaultSize, Overlap: DefaultOverlap}
}

// ConfigError reports an invalid chunking configuration.
type ConfigError struct {
	Size    int
	Overlap int
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("chunking: overlap must be < chunk size and >= 0 (size=%d, overlap=%d)", e.Size, e.Overlap)
}

// Validate returns a *ConfigError when splitting is enabled and the overlap
// is not in [0, Size).
func (o Options) Validate() error {
	if o.Size > 0 && (o.Overlap >= o.Size || o.Overlap < 0) {
		return &ConfigError{Size: o.Size, Overlap: o.Overlap}
	}
	return nil
}

// Normalize collapses whitespace runs to a single space and trims the ends.
func Normalize(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// Chunk normalizes text and returns sliding windows over its runes.
// The cursor advances Size-Overlap runes per window; the last window may be
// shorter than Size.
func Chunk(text string, opts Options) ([]string, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}

	normalized := Normalize(text)
	if normalized == "" {
		return []string{}, nil
	}
	if opts.Size <= 0 {
		return []string{normalized}, nil
	}

	runes := []rune(normalized)
	if len(runes) <= opts.Size {
		return []string{normalized}, nil
	}

	step := opts.Size - opts.Overlap
	chunks := make([]string, 0, len(runes)/step+1)
	for start := 0; start < len(runes); start += step {
		end := start + opts.Size
		if end >= len(runes) {
			chunks = append(chunks, string(runes[start:]))
			break
		}
		chunks = append(chunks, string(runes[start:end]))
	}
	return chunks, nil
}
