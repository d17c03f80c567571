// Command importctl decodes and imports personnel spreadsheets from the
// command line, using the same pipeline as the server.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/sarir/personnel-import/internal/config"
	"github.com/sarir/personnel-import/internal/gateway"
	"github.com/sarir/personnel-import/internal/logging"
)

// globalOptions are the persistent flags, filled from the environment
// configuration when not given.
type globalOptions struct {
	backend  string
	resource string
	charset  string
	logLevel string

	cfg *config.Config
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var opts globalOptions

	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Decode and import personnel spreadsheets",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return opts.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&opts.backend, "backend", "", "Backend base URL (default: BACKEND_URL)")
	root.PersistentFlags().StringVar(&opts.resource, "resource", "", "Backend resource (default: BACKEND_RESOURCE)")
	root.PersistentFlags().StringVar(&opts.charset, "charset", "", "Charset for non UTF-8 text files (default: IMPORT_CHARSET)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "Log level: debug, info, warn, error (default: LOG_LEVEL)")

	root.AddCommand(
		newDecodeCmd(&opts),
		newImportCmd(&opts),
		newProfileCmd(&opts),
		newWorkerCmd(),
	)
	return root
}

func (o *globalOptions) load(cmd *cobra.Command) error {
	// A missing .env is fine; existing env vars win over it.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	o.cfg = cfg

	if o.backend == "" {
		o.backend = cfg.Backend.URL
	}
	if o.resource == "" {
		o.resource = cfg.Backend.Resource
	}
	if o.charset == "" {
		o.charset = cfg.Import.Charset
	}
	if o.logLevel == "" {
		o.logLevel = cfg.Logging.Level
	}

	slog.SetDefault(logging.New(cmd.ErrOrStderr(), o.logLevel, cfg.Logging.Format))
	return nil
}

func (o *globalOptions) gateway() *gateway.Gateway {
	return gateway.New(gateway.Options{
		BaseURL:        o.backend,
		Resource:       o.resource,
		AttemptTimeout: o.cfg.Backend.AttemptTimeout,
	})
}
