// Command citectl runs the citation pipeline offline: it reconciles tagged
// assistant messages and annotates recorded Gemini response streams.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"iter"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/Kocoro-lab/Shannon/go/grounding/internal/citations"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "citectl",
		Short:         "Inspect and reconcile grounding citation markup",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(newReconcileCmd(), newAnnotateCmd())
	return root
}

func newReconcileCmd() *cobra.Command {
	var (
		mode        string
		diagnostics bool
	)
	cmd := &cobra.Command{
		Use:   "reconcile [file]",
		Short: "Rewrite tagged segments into inline citations and a Sources list",
		Long: "Reads an assistant message from file or stdin and prints it with every " +
			"<ws_text> segment replaced by numbered citations.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := citations.ParseMode(mode)
			if err != nil {
				return err
			}
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			data, err := io.ReadAll(in)
			if err != nil {
				return fmt.Errorf("read input: %w", err)
			}
			res, err := citations.NewRewriter(m, zap.NewNop()).Rewrite(string(data))
			if err != nil {
				return err
			}
			fmt.Fprint(cmd.OutOrStdout(), res.Text)
			if diagnostics {
				writeDiagnostics(cmd.ErrOrStderr(), res)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", string(citations.ModeReplaceAll), "placement mode: replace_all or anchored")
	cmd.Flags().BoolVar(&diagnostics, "diagnostics", false, "report stray markup and unplaced citations on stderr")
	return cmd
}

func newAnnotateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "annotate [file]",
		Short: "Annotate a recorded stream of Gemini responses",
		Long: "Reads newline-delimited JSON GenerateContentResponse chunks from file or " +
			"stdin and prints each chunk's text followed by its grounding markup.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in, closeIn, err := openInput(cmd, args)
			if err != nil {
				return err
			}
			defer closeIn()

			out := cmd.OutOrStdout()
			for fragment, err := range citations.Annotate(decodeResponses(in)) {
				if err != nil {
					return err
				}
				fmt.Fprint(out, fragment)
			}
			return nil
		},
	}
}

// decodeResponses yields one response per JSON value in r.
func decodeResponses(r io.Reader) iter.Seq2[*genai.GenerateContentResponse, error] {
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		dec := json.NewDecoder(bufio.NewReader(r))
		for n := 1; ; n++ {
			var resp genai.GenerateContentResponse
			err := dec.Decode(&resp)
			if errors.Is(err, io.EOF) {
				return
			}
			if err != nil {
				yield(nil, fmt.Errorf("chunk %d: %w", n, err))
				return
			}
			if !yield(&resp, nil) {
				return
			}
		}
	}
}

func openInput(cmd *cobra.Command, args []string) (io.Reader, func(), error) {
	if len(args) == 0 || args[0] == "-" {
		return cmd.InOrStdin(), func() {}, nil
	}
	f, err := os.Open(args[0])
	if err != nil {
		return nil, nil, err
	}
	return f, func() { _ = f.Close() }, nil
}

func writeDiagnostics(w io.Writer, res citations.Result) {
	fmt.Fprintf(w, "segments: %d, sources: %d, unplaced: %d\n", res.Segments, len(res.Sources), res.Unplaced)
	for _, d := range res.Diagnostics {
		fmt.Fprintf(w, "stray %s at offset %d\n", d.Tag, d.Offset)
	}
}
