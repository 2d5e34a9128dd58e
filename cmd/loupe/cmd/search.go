package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/loupehq/loupe/internal/app"
	"github.com/loupehq/loupe/internal/search"
	"github.com/loupehq/loupe/internal/ui"
)

type searchOptions struct {
	searchType string
	limit      int
	offset     int
	threshold  float64
	fileTypes  []string
	jsonOut    bool
	voicePath  string
	imagePath  string
}

func newSearchCmd(opts *rootOptions) *cobra.Command {
	var so searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the index",
		Long: `Search indexed files. The default hybrid mode fuses semantic
similarity with keyword matching; --type narrows it to one leg.

Voice and image search convert the input first: --voice transcribes an
audio file, --image extracts text and a caption from a picture, and the
recognized text becomes the query.

Examples:
  loupe search "quarterly budget overview"
  loupe search --type fulltext --file-type pdf "invoice 2025"
  loupe search --voice memo.wav
  loupe search --image whiteboard.jpg --json`,
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			multimodal := so.voicePath != "" || so.imagePath != ""
			if len(args) == 0 && !multimodal {
				return fmt.Errorf("a query, --voice, or --image is required")
			}

			svc, cleanup, err := openServices(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer cleanup()

			var resp *search.Response
			if multimodal {
				resp, err = runMultimodal(cmd, svc, so)
			} else {
				resp, err = svc.Search(cmd.Context(), search.Request{
					Query:     strings.Join(args, " "),
					Type:      search.Type(so.searchType),
					Limit:     so.limit,
					Offset:    so.offset,
					Threshold: so.threshold,
					FileTypes: so.fileTypes,
				})
			}
			if err != nil {
				return err
			}

			if so.jsonOut {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(resp)
			}
			renderResults(cmd, resp, opts.noColor)
			return nil
		},
	}

	f := cmd.Flags()
	f.StringVarP(&so.searchType, "type", "t", "", "Search type: hybrid, semantic, or fulltext (default hybrid)")
	f.IntVarP(&so.limit, "limit", "n", 10, "Maximum number of results")
	f.IntVar(&so.offset, "offset", 0, "Skip this many results")
	f.Float64Var(&so.threshold, "threshold", 0, "Minimum semantic similarity (0-1)")
	f.StringSliceVar(&so.fileTypes, "file-type", nil, "Limit to file types (repeatable)")
	f.BoolVar(&so.jsonOut, "json", false, "Output the full response as JSON")
	f.StringVar(&so.voicePath, "voice", "", "Audio file to transcribe into the query")
	f.StringVar(&so.imagePath, "image", "", "Image file to recognize into the query")
	return cmd
}

func runMultimodal(cmd *cobra.Command, svc *app.Services, so searchOptions) (*search.Response, error) {
	if so.voicePath != "" && so.imagePath != "" {
		return nil, fmt.Errorf("--voice and --image are mutually exclusive")
	}

	path := so.voicePath
	inputType := search.InputVoice
	if so.imagePath != "" {
		path = so.imagePath
		inputType = search.InputImage
	}
	payload, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	return svc.MultimodalSearch(cmd.Context(), search.MultimodalRequest{
		InputType: inputType,
		Payload:   payload,
		Type:      search.Type(so.searchType),
		Limit:     so.limit,
		Offset:    so.offset,
		Threshold: so.threshold,
		FileTypes: so.fileTypes,
	})
}

func renderResults(cmd *cobra.Command, resp *search.Response, noColor bool) {
	out := cmd.OutOrStdout()
	styles := ui.GetStyles(noColor)

	if resp.ConvertedText != "" {
		fmt.Fprintf(out, "%s %q (confidence %.2f)\n\n",
			styles.Label.Render("recognized:"), resp.ConvertedText, resp.Confidence)
	}
	if resp.Warning != "" {
		fmt.Fprintf(out, "%s %s\n\n", styles.Warning.Render("warning:"), resp.Warning)
	}
	if len(resp.Results) == 0 {
		fmt.Fprintln(out, "no results")
		return
	}

	for i, r := range resp.Results {
		fmt.Fprintf(out, "%2d. %s  %s\n", i+1,
			styles.Header.Render(r.FileName),
			styles.Dim.Render(fmt.Sprintf("(%s, %s, %.2f)", r.FileType, r.MatchType, r.RelevanceScore)))
		fmt.Fprintf(out, "    %s\n", styles.Label.Render(r.FilePath))
		if r.Highlight != "" {
			fmt.Fprintf(out, "    %s\n", r.Highlight)
		}
		fmt.Fprintln(out)
	}
	fmt.Fprintf(out, "%d result(s) in %dms\n", resp.Total, resp.ElapsedMS)
}
