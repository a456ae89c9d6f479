package main

import (
	"errors"

	"github.com/h4x3rotab/docker-unpack-bench/config"
	reportexporter "github.com/h4x3rotab/docker-unpack-bench/report_exporter"
	"github.com/h4x3rotab/docker-unpack-bench/target"
	"github.com/spf13/cobra"
)

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export [results_dir]",
		Short: "Print saved benchmark reports as a CSV table, one column per report",
		Long: "Reads every benchmark_*.json in results_dir (default from export.results_dir, tmp/results), newest " +
			"first, and prints one row per metric. Reports that can't be parsed or have no successful runs are " +
			"skipped with a message on stderr. The directory is read locally, where run saves reports, unless " +
			"export.remote is set, in which case it is read on ssh.host over SFTP.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := a.cfg.Export.ResultsDir
			if len(args) == 1 {
				dir = args[0]
			}

			t, closeTarget, err := newExportTarget(a.cfg)
			if err != nil {
				return err
			}
			defer closeTarget()

			e := &reportexporter.Exporter{
				Target:      t,
				Concurrency: a.cfg.Export.Concurrency,
				Diagnostics: cmd.ErrOrStderr(),
			}
			return e.Export(cmd.Context(), dir, cmd.OutOrStdout())
		},
	}
}

// newExportTarget reads results on the machine that saved them: locally unless export.remote is set.
func newExportTarget(cfg *config.Config) (target.Target, func(), error) {
	if !cfg.Export.Remote {
		return target.NewLocalTarget(), func() {}, nil
	}
	if cfg.SSH.Host == "" {
		return nil, nil, errors.New("export.remote needs ssh.host")
	}
	return newTarget(cfg)
}
