package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/opennames/internal/acquire"
	"github.com/JonMunkholm/opennames/internal/core"
)

var statusVersion string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the records of a release",
	Long: `List the registered input files of a release with their stage flags.
Without --version the current upstream release is used.`,
	RunE: runStatus,
}

var resetSourceCmd = &cobra.Command{
	Use:   "reset-source <id>",
	Short: "Delete one record so the next pass starts it over",
	Long: `Delete the record of one input file, e.g. "2024-04/TR04.csv". The next
pass of that release registers it again from scratch.`,
	Args: cobra.ExactArgs(1),
	RunE: runResetSource,
}

func init() {
	statusCmd.Flags().StringVar(&statusVersion, "version", "", "release to show (default: current upstream release)")

	rootCmd.AddCommand(statusCmd, resetSourceCmd)
}

func runStatus(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()

	version := statusVersion
	if version == "" {
		v, err := acquire.New(acquire.Options{
			APIBase:     cfg.Source.APIBase,
			ProductID:   cfg.Source.ProductID,
			HTTPTimeout: cfg.Source.HTTPTimeout,
		}).ResolveVersion(ctx)
		if err != nil {
			return err
		}
		version = v
	}

	st, err := newStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.close()

	cat, err := st.registry.List(ctx, version, core.ListFilter{IncludeFiles: cfg.Pipeline.IncludeFiles})
	if err != nil {
		return err
	}
	if len(cat.DataSources) == 0 {
		return core.Errorf(core.KindNotFound, "status", "no data sources registered for %s", version)
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPROCESSED\tVALID ROWS\tIMPORTED\tCLEANED")
	var processed, imported, cleaned int
	for _, ds := range cat.DataSources {
		fmt.Fprintf(w, "%s\t%t\t%d\t%t\t%t\n", ds.ID, ds.Processed, ds.ValidRows, ds.Imported, ds.Cleaned)
		if ds.Processed {
			processed++
		}
		if ds.Imported {
			imported++
		}
		if ds.Cleaned {
			cleaned++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "\n%s: %d files, %d processed, %d imported, %d cleaned, complete=%t\n",
		version, len(cat.DataSources), processed, imported, cleaned, core.AllCleaned(cat.DataSources))
	return nil
}

func runResetSource(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	st, err := newStore(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer st.close()

	n, err := st.registry.Delete(ctx, args[0])
	if err != nil {
		return err
	}
	if n == 0 {
		return core.Errorf(core.KindNotFound, "reset-source", "no record %s", args[0])
	}
	fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", args[0])
	return nil
}
