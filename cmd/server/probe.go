package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/mixaill76/chat_relay/internal/probe"
)

var probeFlags struct {
	model   string
	workers int
	asJSON  bool
}

var errNoHealthyTokens = errors.New("no token passed the probe")

var probeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Check every configured token once",
	Long: `Send a short prompt through every configured token and report which
ones work. Exits non-zero when no token succeeds.

Examples:
  # Probe with the model from the config file
  server probe

  # Probe a specific model and print JSON
  server probe --model gpt-4 --json`,
	RunE: runProbe,
}

func init() {
	rootCmd.AddCommand(probeCmd)

	probeCmd.Flags().StringVarP(&probeFlags.model, "model", "m", "", "model to probe (overrides probe.model)")
	probeCmd.Flags().IntVarP(&probeFlags.workers, "workers", "w", 0, "concurrent probes (overrides probe.workers)")
	probeCmd.Flags().BoolVar(&probeFlags.asJSON, "json", false, "print results as JSON")
}

type probeReport struct {
	Summary probe.Summary  `json:"summary"`
	Results []probe.Result `json:"results"`
}

func runProbe(cmd *cobra.Command, args []string) error {
	cfg, log, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}

	opts := probeOptions(cfg)
	if probeFlags.model != "" {
		opts.Model = probeFlags.model
	}
	if probeFlags.workers > 0 {
		opts.Workers = probeFlags.workers
	}
	if opts.Model == "" {
		return errors.New("probe model is required (set probe.model or --model)")
	}

	a, err := newApp(cfg, log)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	results := probe.New(a.pool, a.clients, a.resolver, opts, log).Run(ctx)
	report := probeReport{Summary: probe.Summarize(results), Results: results}

	out := cmd.OutOrStdout()
	if probeFlags.asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printProbeTable(out, report)
	}

	if report.Summary.OK == 0 {
		return errNoHealthyTokens
	}
	return nil
}

func printProbeTable(out io.Writer, report probeReport) {
	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "#\tTOKEN\tPROXY\tSTATUS\tLATENCY\tERROR")
	for _, r := range report.Results {
		status := "ok"
		if !r.OK {
			status = r.Kind
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\t%s\n", r.Index, r.Token, r.Proxy, status, r.Latency, r.Error)
	}
	_ = tw.Flush()
	fmt.Fprintf(out, "\n%d/%d ok, %d invalid, %d failed\n",
		report.Summary.OK, report.Summary.Total, report.Summary.Invalid, report.Summary.Failed)
}
