// Package cli provides CLI output utilities for Kioku.
package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/hyperjump/kioku/internal/models"
)

// OutputFormat is the format for CLI output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat maps a flag value to an OutputFormat.
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch s {
	case "text", "":
		return OutputText, nil
	case "json":
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q; use text or json", s)
	}
}

// WriteQueryResult writes a query result to w in the given format.
// Use OutputJSON for parseable output consumable by other apps.
func WriteQueryResult(w io.Writer, result *models.QueryResult, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(result)
	default:
		writeQueryResultText(w, result)
		return nil
	}
}

func writeQueryResultText(w io.Writer, result *models.QueryResult) {
	fmt.Fprintln(w, result.Answer)
	if result.FromCache {
		fmt.Fprintf(w, "\n(served from cache, cached at %s)\n", result.CachedAt.Format("2006-01-02 15:04:05"))
	}
	if len(result.Sources) > 0 {
		fmt.Fprintln(w, "\nSources:")
		for i, src := range result.Sources {
			fmt.Fprintf(w, "  %d. %s (score %.3f)\n", i+1, src.Source, src.Score)
		}
	}
}

// WriteSources writes retrieved chunks to w in the given format.
func WriteSources(w io.Writer, sources []models.Source, format OutputFormat) error {
	switch format {
	case OutputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sources)
	default:
		if len(sources) == 0 {
			fmt.Fprintln(w, "No results.")
			return nil
		}
		for i, src := range sources {
			fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
			fmt.Fprintf(w, "Rank: %d | Score: %.4f | Source: %s\n", i+1, src.Score, src.Source)
			fmt.Fprintf(w, "\n%s\n\n", src.Content)
		}
		return nil
	}
}
