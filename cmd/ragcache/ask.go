package main

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/ragcache/internal/chat"
	"github.com/fyrsmithlabs/ragcache/internal/semcache"
	"github.com/spf13/cobra"
)

func newAskCmd() *cobra.Command {
	var noCache bool
	cmd := &cobra.Command{
		Use:   "ask <question>",
		Short: "Answer one question from the terminal",
		Long: `Answer a question the same way the chat endpoint does. The answer is
printed as it streams, followed by its sources.

Examples:
  ragcache ask "what is the return policy?"
  ragcache ask --no-cache "summarize chapter 2"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			a, err := newApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			var cache *semcache.Cache
			if !noCache {
				if cache, err = a.cache(); err != nil {
					return err
				}
				if payload := lookupCached(cmd, cache, query); payload != nil {
					fmt.Fprintln(out, payload.Text)
					printSources(cmd, payload.Citations)
					fmt.Fprintln(cmd.ErrOrStderr(), "[ragcache] served from cache")
					return nil
				}
			}

			o, err := a.orchestrator(cmd.Context(), cache)
			if err != nil {
				return err
			}
			defer o.Wait()

			var citations []semcache.Citation
			for ev := range o.Stream(cmd.Context(), chat.Request{Query: query}) {
				switch ev.Type {
				case chat.EventCitations:
					citations = ev.Citations
				case chat.EventTextDelta:
					fmt.Fprint(out, ev.Delta)
				case chat.EventTextEnd:
					fmt.Fprintln(out)
				case chat.EventError:
					return fmt.Errorf("answer failed: %s", ev.ErrorText)
				}
			}
			if err := cmd.Context().Err(); err != nil {
				return err
			}
			printSources(cmd, citations)
			return nil
		},
	}
	cmd.Flags().BoolVar(&noCache, "no-cache", false, "skip the semantic cache for lookup and write")
	return cmd
}

// lookupCached returns the cached answer for query, or nil on a miss or
// any cache failure.
func lookupCached(cmd *cobra.Command, cache *semcache.Cache, query string) *semcache.Payload {
	hit, err := cache.Lookup(cmd.Context(), query)
	if err != nil || hit == nil {
		return nil
	}
	payload, err := cache.Fetch(cmd.Context(), hit.PointerKey)
	if err != nil {
		return nil
	}
	return payload
}

func printSources(cmd *cobra.Command, citations []semcache.Citation) {
	if len(citations) == 0 {
		return
	}
	w := cmd.OutOrStdout()
	fmt.Fprintln(w, "\nSources:")
	for i, c := range citations {
		page := "n/a"
		if c.Page != nil {
			page = fmt.Sprint(*c.Page)
		}
		fmt.Fprintf(w, "  [%d] %s (page %s, relevance %.3f)\n", i+1, c.Source, page, c.Score)
	}
}
