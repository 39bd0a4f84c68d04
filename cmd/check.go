package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/carwatch/internal/check"
	"github.com/JakeFAU/carwatch/internal/config"
)

const (
	flagHeadless  = "headless"
	flagVisible   = "visible"
	flagMode      = "mode"
	flagReport    = "report"
	flagTransport = "konfiskat-transport"
)

func newCheckCmd(s *session) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run one check against every source",
		Long: `Searches every source for the configured VIN and plate. Exits 0 when
nothing was found, 1 when a source lists the vehicle (after sending the
alert), and 2 on configuration errors.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCheck(cmd, s.cfg.Check.ReportPath)
		},
	}
	cmd.Flags().Bool(flagHeadless, true, "run the browser without a window")
	cmd.Flags().Bool(flagVisible, false, "show the browser window (same as --headless=false)")
	cmd.Flags().String(flagMode, "", "run sources sequentially or concurrently (sequential|concurrent)")
	cmd.Flags().String(flagReport, "", "write the JSON run report to this path")
	cmd.Flags().String(flagTransport, "", "how konfiskat is queried (browser|http)")
	cmd.MarkFlagsMutuallyExclusive(flagHeadless, flagVisible)
	return cmd
}

// applyOverrides copies explicitly set check flags over the loaded config
// and re-validates it. Commands without those flags leave cfg alone.
func applyOverrides(cmd *cobra.Command, cfg *config.Config) error {
	flags := cmd.Flags()
	changed := false
	if flags.Lookup(flagHeadless) != nil && flags.Changed(flagHeadless) {
		v, err := flags.GetBool(flagHeadless)
		if err != nil {
			return err
		}
		cfg.Browser.Headless, changed = v, true
	}
	if flags.Lookup(flagVisible) != nil && flags.Changed(flagVisible) {
		v, err := flags.GetBool(flagVisible)
		if err != nil {
			return err
		}
		cfg.Browser.Headless, changed = !v, true
	}
	for name, dst := range map[string]*string{
		flagMode:      &cfg.Check.Mode,
		flagReport:    &cfg.Check.ReportPath,
		flagTransport: &cfg.Konfiskat.Transport,
	} {
		if flags.Lookup(name) == nil || !flags.Changed(name) {
			continue
		}
		v, err := flags.GetString(name)
		if err != nil {
			return err
		}
		*dst, changed = v, true
	}
	if !changed {
		return nil
	}
	return cfg.Validate()
}

func runCheck(cmd *cobra.Command, reportPath string) error {
	ctx := cmd.Context()
	appInstance, err := resolveApp(ctx)
	if err != nil {
		return configError(err)
	}
	logger := appInstance.Logger()

	runner, err := appInstance.Runner(appInstance.Checkers())
	if err != nil {
		return configError(err)
	}

	report, decision, runErr := runner.Run(ctx, appInstance.Query())
	if runErr == nil {
		printSummary(cmd.OutOrStdout(), report)
		if reportPath != "" {
			if err := writeReport(reportPath, report); err != nil {
				logger.Warn("write report failed", zap.String("path", reportPath), zap.Error(err))
			}
		}
	}
	appInstance.FlushMetrics(ctx)

	if code := decision.ExitCode(); code != check.ExitClean {
		return &ExitError{Code: code, Err: runErr}
	}
	return nil
}

func printSummary(w io.Writer, r check.Report) {
	for _, o := range r.Outcomes {
		line := fmt.Sprintf("%-10s %-9s %s", o.Source, o.Status, o.Detail)
		if o.Snapshot != "" {
			line += " [snapshot " + o.Snapshot + "]"
		}
		fmt.Fprintln(w, line)
	}
	fmt.Fprintf(w, "decision: %s\n", r.Decision)
}

func writeReport(path string, r check.Report) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := f.Close(); err == nil {
			err = cerr
		}
	}()
	return r.WriteJSON(f)
}
