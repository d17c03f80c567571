package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/mapping"
	"github.com/sarir/personnel-import/internal/report"
)

type importOptions struct {
	profile      string
	profilesFile string
	autoMap      bool
	dryRun       bool
	concurrency  int
	reportDir    string
}

func newImportCmd(g *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import FILE...",
		Short: "Import spreadsheets into the backend",
		Long: `Decode each file and submit its rows to the backend's bulk import.

Files are imported independently; one failing file does not stop the others.
Headers are sent as-is unless --profile or --automap picks a mapping.

Example: importctl import staff.xlsx contractors.csv --profile hr --report-dir reports/`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runImport(cmd, g, opts, args)
		},
	}

	cmd.Flags().StringVar(&opts.profile, "profile", "", "Mapping profile name")
	cmd.Flags().StringVar(&opts.profilesFile, "profiles-file", "", "YAML profile file (default: IMPORT_PROFILES_FILE)")
	cmd.Flags().BoolVar(&opts.autoMap, "automap", false, "Map headers against the backend schema")
	cmd.Flags().BoolVar(&opts.dryRun, "dry-run", false, "Decode only, do not submit")
	cmd.Flags().IntVar(&opts.concurrency, "concurrency", 2, "Files imported at once")
	cmd.Flags().StringVar(&opts.reportDir, "report-dir", "", "Write each file's row report as CSV into this directory")

	cmd.MarkFlagsMutuallyExclusive("profile", "automap")
	return cmd
}

// fileResult is the outcome of one file, kept in argument order.
type fileResult struct {
	path    string
	outcome importer.Outcome
	err     error
}

func runImport(cmd *cobra.Command, g *globalOptions, opts importOptions, paths []string) error {
	if opts.concurrency < 1 {
		return fmt.Errorf("invalid --concurrency: %d", opts.concurrency)
	}

	gw := g.gateway()
	planner, err := opts.planner(g, gw)
	if err != nil {
		return err
	}

	orch := importer.New(importer.Options{
		Gateway:       gw,
		Planner:       planner,
		Charset:       g.charset,
		DecodeTimeout: g.cfg.Import.DecodeTimeout,
		MaxFileSize:   g.cfg.Import.MaxFileSize,
		DryRun:        opts.dryRun,
	})

	results := make([]fileResult, len(paths))

	var eg errgroup.Group
	eg.SetLimit(opts.concurrency)
	for i, path := range paths {
		i, path := i, path
		eg.Go(func() error {
			results[i] = importOne(cmd, orch, path)
			return nil
		})
	}
	_ = eg.Wait()

	out := cmd.OutOrStdout()
	failed := 0
	for _, r := range results {
		if r.err != nil || r.outcome.Failed() {
			failed++
		}
		printResult(out, r)

		if opts.reportDir != "" && r.outcome.Kind == importer.OutcomeSubmissionAccepted {
			if err := writeReport(opts.reportDir, r); err != nil {
				slog.Warn("report not written", "file", r.path, "error", err)
			}
		}
	}

	if failed > 0 {
		return fmt.Errorf("%d of %d files failed", failed, len(paths))
	}
	return nil
}

func (o importOptions) planner(g *globalOptions, gw *gateway.Gateway) (importer.Planner, error) {
	if o.autoMap {
		return importer.AutoPlan(gw), nil
	}
	if o.profile == "" {
		return nil, nil
	}

	path := o.profilesFile
	if path == "" {
		path = g.cfg.Import.ProfilesFile
	}
	if path == "" {
		return nil, errors.New("--profile needs --profiles-file or IMPORT_PROFILES_FILE")
	}
	ps, err := mapping.LoadProfiles(path)
	if err != nil {
		return nil, err
	}
	if _, err := ps.Get(o.profile); err != nil {
		return nil, err
	}
	return importer.ProfilePlan(ps, o.profile), nil
}

func importOne(cmd *cobra.Command, orch *importer.Orchestrator, path string) fileResult {
	fh, f, err := openFile(path)
	if err != nil {
		return fileResult{path: path, err: err}
	}
	defer fh.Close()

	return fileResult{path: path, outcome: orch.ImportFile(cmd.Context(), f)}
}

func printResult(w io.Writer, r fileResult) {
	if r.err != nil {
		fmt.Fprintf(w, "%s\terror\t%v\n", r.path, r.err)
		return
	}

	o := r.outcome
	switch o.Kind {
	case importer.OutcomeParsed:
		fmt.Fprintf(w, "%s\tparsed\tcolumns=%d rows=%d\n", r.path, len(o.Parsed.Headers), len(o.Parsed.Rows))
	case importer.OutcomeSubmissionAccepted:
		detail := fmt.Sprintf("status=%d", o.Status)
		if sum, ok := gateway.Summarize(o.Body); ok {
			detail += " " + sum.String()
		}
		fmt.Fprintf(w, "%s\taccepted\t%s\n", r.path, detail)
	default:
		msg := importer.MapOutcome(o)
		fmt.Fprintf(w, "%s\t%s\t%s (Code: %s): %s\n", r.path, o.Kind, msg.Message, msg.Code, o.Message)
	}
}

func writeReport(dir string, r fileResult) error {
	var buf bytes.Buffer
	if _, err := report.WriteCSV(&buf, r.outcome.Body); err != nil {
		if errors.Is(err, report.ErrNoReport) {
			return nil
		}
		return err
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	base := strings.TrimSuffix(filepath.Base(r.path), filepath.Ext(r.path))
	return os.WriteFile(filepath.Join(dir, base+".report.csv"), buf.Bytes(), 0o644)
}
