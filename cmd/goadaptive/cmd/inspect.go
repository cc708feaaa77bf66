package cmd

import (
	"fmt"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/dbsmedya/goadaptive/internal/console"
	"github.com/dbsmedya/goadaptive/internal/pipeline"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/record"
	"github.com/dbsmedya/goadaptive/internal/state"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

var inspectFormat string

var inspectCmd = &cobra.Command{
	Use:   "inspect [field]",
	Short: "Show persisted field statistics and decisions",
	Long: `Inspect reads schema_map.json and decisions.json from the state directory
and prints the learned statistics without connecting to any backend.

With no argument every field is listed, most frequent first. With a field
name its full statistics and placement are shown. --format json or yaml
prints a machine-readable report instead of the console tables.

Example:
  goadaptive inspect --config goadaptive.yaml
  goadaptive inspect email --state-dir ./metadata
  goadaptive inspect --format yaml > fields.yaml`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInspect,
}

func init() {
	inspectCmd.Flags().StringVar(&inspectFormat, "format", "table",
		"Output format (table, json, yaml)")

	rootCmd.AddCommand(inspectCmd)
}

type fieldReport struct {
	Count          int64            `json:"count" yaml:"count"`
	Frequency      float64          `json:"frequency_ratio" yaml:"frequency_ratio"`
	Type           record.TypeTag   `json:"detected_type" yaml:"detected_type"`
	Types          []record.TypeTag `json:"types" yaml:"types"`
	Nested         bool             `json:"is_nested" yaml:"is_nested"`
	UniqueRatio    float64          `json:"unique_ratio" yaml:"unique_ratio"`
	Capped         bool             `json:"capped" yaml:"capped"`
	Target         policy.Target    `json:"target,omitempty" yaml:"target,omitempty"`
	RelationalType string           `json:"sql_type,omitempty" yaml:"sql_type,omitempty"`
	Unique         bool             `json:"is_unique,omitempty" yaml:"is_unique,omitempty"`
}

type stateReport struct {
	StateDir     string                 `json:"state_dir" yaml:"state_dir"`
	TotalRecords int64                  `json:"total_records" yaml:"total_records"`
	Fields       map[string]fieldReport `json:"fields" yaml:"fields"`
}

func buildReport(dir string, tracker *stats.Tracker, decisions policy.Decisions, only string) (*stateReport, error) {
	summaries := tracker.Summarize()
	if only != "" {
		s, ok := summaries[only]
		if !ok {
			return nil, fmt.Errorf("field %q has not been observed", only)
		}
		summaries = map[string]stats.Summary{only: s}
	}

	rep := &stateReport{
		StateDir:     dir,
		TotalRecords: tracker.TotalRecords(),
		Fields:       make(map[string]fieldReport, len(summaries)),
	}
	for name, s := range summaries {
		fr := fieldReport{
			Count:       s.OccurrenceCount,
			Frequency:   s.FrequencyRatio,
			Type:        s.DetectedType,
			Types:       s.Types,
			Nested:      s.IsNested,
			UniqueRatio: s.UniqueRatio,
			Capped:      s.Capped,
		}
		if d, ok := decisions[name]; ok {
			fr.Target = d.Target
			fr.RelationalType = d.RelationalType
			fr.Unique = d.EnforceUniqueness
		}
		rep.Fields[name] = fr
	}
	return rep, nil
}

func encodeReport(rep *stateReport, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(rep, "", "  ")
	case "yaml":
		return yaml.Marshal(rep)
	}
	return nil, fmt.Errorf("unknown format %q (use table, json or yaml)", format)
}

// stateView serves console reads from restored state.
type stateView struct {
	tracker   *stats.Tracker
	decisions policy.Decisions
}

func (v *stateView) Status() pipeline.Status {
	return pipeline.Status{TotalRecords: v.tracker.TotalRecords(), Fields: v.tracker.FieldCount()}
}

func (v *stateView) Summaries() map[string]stats.Summary { return v.tracker.Summarize() }

func (v *stateView) Summary(field string) (stats.Summary, bool) { return v.tracker.SummaryFor(field) }

func (v *stateView) Decisions() policy.Decisions { return v.decisions }

func runInspect(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfigUnvalidated()
	if err != nil {
		return err
	}

	st, err := state.NewFileStore(cfg.State.Dir)
	if err != nil {
		return err
	}

	tracker := stats.NewTracker(cfg.Stats)
	pol := policy.New(cfg.Policy, nil, nil)
	decisions, err := restoreState(st, tracker, pol)
	if err != nil {
		return err
	}

	if inspectFormat != "" && inspectFormat != "table" {
		only := ""
		if len(args) == 1 {
			only = args[0]
		}
		rep, err := buildReport(st.Dir(), tracker, decisions, only)
		if err != nil {
			return err
		}
		out, err := encodeReport(rep, inspectFormat)
		if err != nil {
			return err
		}
		cmd.Print(string(out))
		return nil
	}

	view := &stateView{tracker: tracker, decisions: decisions}
	cons := console.New(view, nil)

	if len(args) == 1 {
		out, _ := cons.Execute("stats "+args[0], false)
		cmd.Println(out)
		return nil
	}

	cmd.Printf("State directory: %s\n", st.Dir())
	cmd.Printf("Records processed: %d\n\n", tracker.TotalRecords())
	out, _ := cons.Execute("all_stats", false)
	cmd.Println(out)
	cmd.Printf("\nTotal: %s\n", pluralize(tracker.FieldCount(), "field"))
	return nil
}

func pluralize(n int, noun string) string {
	if n == 1 {
		return fmt.Sprintf("1 %s", noun)
	}
	return fmt.Sprintf("%d %ss", n, noun)
}
