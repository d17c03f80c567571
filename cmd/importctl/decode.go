package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/tabular"
)

type decodeResult struct {
	File     string        `json:"file"`
	Headers  []string      `json:"headers,omitempty"`
	Rows     []tabular.Row `json:"rows,omitempty"`
	RowCount int           `json:"row_count"`
	Error    string        `json:"error,omitempty"`
}

func newDecodeCmd(g *globalOptions) *cobra.Command {
	var maxRows int

	cmd := &cobra.Command{
		Use:   "decode FILE...",
		Short: "Decode spreadsheets and print their rows as JSON",
		Long: `Decode each file the way an import would, without contacting the backend.

One JSON object is printed per file. Files that fail to decode carry an
"error" field and make the command exit non-zero.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := importer.New(importer.Options{
				Charset:       g.charset,
				DecodeTimeout: g.cfg.Import.DecodeTimeout,
				MaxFileSize:   g.cfg.Import.MaxFileSize,
				DryRun:        true,
			})

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")

			failed := 0
			for _, path := range args {
				res := decodeFile(cmd, orch, path, maxRows)
				if res.Error != "" {
					failed++
				}
				if err := enc.Encode(res); err != nil {
					return err
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d files could not be decoded", failed, len(args))
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&maxRows, "rows", 0, "Print at most this many rows per file (0 prints all)")
	return cmd
}

func decodeFile(cmd *cobra.Command, orch *importer.Orchestrator, path string, maxRows int) decodeResult {
	out := decodeResult{File: path}

	fh, f, err := openFile(path)
	if err != nil {
		out.Error = err.Error()
		return out
	}
	defer fh.Close()

	outcome := orch.ImportFile(cmd.Context(), f)
	if outcome.Failed() {
		out.Error = importer.MapOutcome(outcome).Message + ": " + outcome.Message
		return out
	}

	res := outcome.Parsed
	out.Headers = res.Headers
	out.RowCount = len(res.Rows)
	out.Rows = res.Rows
	if maxRows > 0 {
		out.Rows = res.Rows[:min(len(res.Rows), maxRows)]
	}
	return out
}

// openFile opens path for an import. The caller closes the returned handle.
func openFile(path string) (*os.File, importer.File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, importer.File{}, err
	}
	info, err := fh.Stat()
	if err != nil {
		fh.Close()
		return nil, importer.File{}, err
	}
	return fh, importer.File{
		Name:   info.Name(),
		Size:   info.Size(),
		Reader: fh,
	}, nil
}
