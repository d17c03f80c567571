package main

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/sarir/personnel-import/internal/importer"
	"github.com/sarir/personnel-import/internal/mapping"
)

func newProfileCmd(g *globalOptions) *cobra.Command {
	var profilesFile string

	cmd := &cobra.Command{
		Use:   "profile",
		Short: "Manage mapping profiles",
	}
	cmd.PersistentFlags().StringVar(&profilesFile, "profiles-file", "", "YAML profile file (default: IMPORT_PROFILES_FILE)")

	file := func() string {
		if profilesFile != "" {
			return profilesFile
		}
		return g.cfg.Import.ProfilesFile
	}

	cmd.AddCommand(newProfileListCmd(file), newProfileSuggestCmd(g, file))
	return cmd
}

func newProfileListCmd(file func() string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List saved profiles",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file()
			if path == "" {
				return errors.New("no profile file: set --profiles-file or IMPORT_PROFILES_FILE")
			}
			ps, err := mapping.LoadProfiles(path)
			if err != nil {
				return err
			}
			for _, name := range ps.Names() {
				marker := ""
				if name == ps.Default {
					marker = " (default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s%s\t%d mapped\n", name, marker, len(ps.Profiles[name].Mapping.Compact()))
			}
			return nil
		},
	}
}

func newProfileSuggestCmd(g *globalOptions, file func() string) *cobra.Command {
	var name string

	cmd := &cobra.Command{
		Use:   "suggest FILE",
		Short: "Suggest a mapping for a spreadsheet from the backend schema",
		Long: `Decode FILE, match its headers against the backend schema and print the
resulting profile as YAML. With --save NAME the profile is stored in the
profile file under that name instead.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orch := importer.New(importer.Options{
				Charset:       g.charset,
				DecodeTimeout: g.cfg.Import.DecodeTimeout,
				MaxFileSize:   g.cfg.Import.MaxFileSize,
				DryRun:        true,
			})

			fh, f, err := openFile(args[0])
			if err != nil {
				return err
			}
			defer fh.Close()

			out := orch.ImportFile(cmd.Context(), f)
			if out.Failed() {
				return out.Err()
			}

			p, err := importer.AutoPlan(g.gateway())(cmd.Context(), out.Parsed)
			if err != nil {
				return err
			}
			p.Mapping = p.Mapping.Compact()

			if name == "" {
				enc := yaml.NewEncoder(cmd.OutOrStdout())
				defer enc.Close()
				return enc.Encode(p)
			}

			path := file()
			if path == "" {
				return errors.New("--save needs --profiles-file or IMPORT_PROFILES_FILE")
			}
			ps, err := mapping.LoadProfiles(path)
			if errors.Is(err, os.ErrNotExist) {
				ps, err = &mapping.Profiles{}, nil
			}
			if err != nil {
				return err
			}
			ps.Put(name, p)
			if err := ps.Save(path); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "saved profile %q to %s (%d mapped)\n", name, path, len(p.Mapping))
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "save", "", "Store the suggestion under this profile name")
	return cmd
}
