package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"

	"github.com/biodoia/operatoros/internal/router"
	"github.com/spf13/cobra"
)

// BackendsCmd rappresenta il comando backends
var BackendsCmd = &cobra.Command{
	Use:   "backends",
	Short: "Inspect configured LLM backends",
	Example: `  # List configured backends without probing
  operatoros backends list

  # Health check every backend
  operatoros backends probe`,
}

var backendsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List configured backends",
	RunE:  runBackendsList,
}

var backendsProbeCmd = &cobra.Command{
	Use:   "probe",
	Short: "Health check all backends and show the live set",
	RunE:  runBackendsProbe,
}

var backendsOutput string

func init() {
	BackendsCmd.PersistentFlags().StringVarP(&backendsOutput, "output", "o", FormatTable, "Output format (table, json, yaml)")

	BackendsCmd.AddCommand(backendsListCmd)
	BackendsCmd.AddCommand(backendsProbeCmd)
}

func runBackendsList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cmd, cfg)

	registry, err := router.BuildRegistry(cfg.Backends)
	if err != nil {
		return err
	}
	return printBackends(cmd.OutOrStdout(), registry.Status(), nil)
}

func runBackendsProbe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	initLogging(cmd, cfg)

	registry, err := router.BuildRegistry(cfg.Backends, router.WithProbeTimeout(cfg.Routing.ProbeTimeout))
	if err != nil {
		return err
	}

	failures := registry.Probe(context.WithoutCancel(cmd.Context()))
	if err := printBackends(cmd.OutOrStdout(), registry.Status(), failures); err != nil {
		return err
	}
	if len(registry.LiveNames()) == 0 {
		return fmt.Errorf("no live backends")
	}
	return nil
}

type backendRow struct {
	router.BackendStatus `yaml:",inline"`
	ProbeError           string `json:"probe_error,omitempty" yaml:"probe_error,omitempty"`
}

func printBackends(out io.Writer, statuses []router.BackendStatus, failures map[string]error) error {
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Priority < statuses[j].Priority })

	rows := make([]backendRow, 0, len(statuses))
	for _, st := range statuses {
		row := backendRow{BackendStatus: st}
		if err, ok := failures[st.Name]; ok {
			row.ProbeError = err.Error()
		}
		rows = append(rows, row)
	}

	if backendsOutput != FormatTable {
		return writeOutput(out, backendsOutput, rows)
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tKIND\tMODEL\tPRIORITY\tLIVE\tREASON")
	for _, r := range rows {
		reason := r.Reason
		if r.ProbeError != "" {
			reason = r.ProbeError
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%v\t%s\n",
			r.Name, r.Kind, r.Model, r.Priority, r.Live, truncate(reason, 60))
	}
	return w.Flush()
}
