package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/spf13/cobra"

	"github.com/quarrysearch/quarry/internal/search"
)

// timePrecision rounds reported latencies for display.
const timePrecision = time.Millisecond

// searchOptions holds CLI flags for search.
type searchOptions struct {
	store       string
	limit       int
	pathPrefix  string
	languages   []string
	format      string
	rerank      string
	groupByFile bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search an indexed store",
		Long: `Search an indexed store with hybrid retrieval.

The query is classified as code, natural language, or both; lexical
BM25 and vector results are fused with weighted RRF and optionally
reranked by a cross-encoder.

Examples:
  quarry search "authentication middleware" --store repo
  quarry search "ValidateToken" --store repo --limit 5 --lang go
  quarry search "error handling" --store repo --path internal/ --format json`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")

			req := &search.Request{
				Query:       query,
				Store:       opts.store,
				Limit:       opts.limit,
				PathPrefix:  opts.pathPrefix,
				Languages:   opts.languages,
				GroupByFile: opts.groupByFile,
			}
			switch opts.rerank {
			case "on":
				on := true
				req.Rerank = &on
			case "off":
				off := false
				req.Rerank = &off
			case "auto", "":
			default:
				return fmt.Errorf("--rerank must be auto, on, or off, got %q", opts.rerank)
			}

			svc, cleanup, err := openService()
			if err != nil {
				return err
			}
			defer cleanup()

			resp, err := svc.Search(cmd.Context(), req)
			if err != nil {
				return err
			}

			if opts.format == "json" {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			return printResults(cmd, resp)
		},
	}

	cmd.Flags().StringVarP(&opts.store, "store", "s", "default", "Store to search")
	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.pathPrefix, "path", "p", "", "Filter by path prefix")
	cmd.Flags().StringSliceVarP(&opts.languages, "lang", "l", nil, "Filter by language (repeatable)")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringVar(&opts.rerank, "rerank", "auto", "Reranking: auto, on, off")
	cmd.Flags().BoolVar(&opts.groupByFile, "group-by-file", false, "Keep only the best chunk per file")

	return cmd
}

func printResults(cmd *cobra.Command, resp *search.Response) error {
	out := cmd.OutOrStdout()
	interactive := isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())

	if resp.Partial {
		fmt.Fprintf(out, "warning: %s\n", resp.Warning)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return nil
	}

	if interactive {
		fmt.Fprintf(out, "%d results (%s query, %.0f%% confidence, %s)\n\n",
			len(resp.Results), resp.Classification.Type,
			resp.Classification.Confidence*100, resp.Took.Round(timePrecision))
	}
	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %s:%d-%d  %d%%\n", i+1, r.Path, r.StartLine, r.EndLine, r.DisplayPercent)
		if interactive {
			for _, line := range headLines(r.Content, 3) {
				fmt.Fprintf(out, "      %s\n", line)
			}
			fmt.Fprintln(out)
		}
	}
	return nil
}

func headLines(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	return lines
}
