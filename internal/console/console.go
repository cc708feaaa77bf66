// Package console implements the read-only command interface over a running
// engine: status, queue depths and per-field statistics.
package console

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/elliotchance/orderedmap/v2"
	"github.com/gookit/color"
	"github.com/mattn/go-runewidth"

	"github.com/dbsmedya/goadaptive/internal/pipeline"
	"github.com/dbsmedya/goadaptive/internal/policy"
	"github.com/dbsmedya/goadaptive/internal/stats"
)

// Inspector is the engine view the console reads from.
type Inspector interface {
	Status() pipeline.Status
	Summaries() map[string]stats.Summary
	Summary(field string) (stats.Summary, bool)
	Decisions() policy.Decisions
}

// Commands lists the console commands in help order.
var Commands = []string{"status", "queue", "stats <field>", "all_stats", "help", "exit"}

const prompt = "goadaptive> "

// IsCommand reports whether name is a console command word.
func IsCommand(name string) bool {
	switch strings.ToLower(name) {
	case "status", "queue", "stats", "all_stats", "help", "exit", "quit":
		return true
	}
	return false
}

// Console dispatches command lines to Inspector reads.
type Console struct {
	insp     Inspector
	stop     func()
	colorize bool
}

// New creates a console. stop is called by the exit command and may be nil.
func New(insp Inspector, stop func()) *Console {
	return &Console{insp: insp, stop: stop}
}

// WithColor enables ANSI colors in output.
func (c *Console) WithColor(enabled bool) *Console {
	c.colorize = enabled
	return c
}

// Execute runs one command line and returns its output. quit is true for
// exit, which also calls stop when allowExit is set.
func (c *Console) Execute(line string, allowExit bool) (out string, quit bool) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", false
	}

	switch strings.ToLower(fields[0]) {
	case "status":
		return c.status(), false
	case "queue":
		return c.queue(), false
	case "stats":
		if len(fields) < 2 {
			return c.errorf("usage: stats <field>"), false
		}
		return c.fieldStats(fields[1]), false
	case "all_stats":
		return c.allStats(), false
	case "help":
		return c.help(), false
	case "exit", "quit":
		if !allowExit {
			return c.errorf("exit is only available on the local console"), false
		}
		if c.stop != nil {
			c.stop()
		}
		return "Shutting down...", true
	default:
		return c.errorf("unknown command %q, type help", fields[0]), false
	}
}

// Run reads commands from r until exit, EOF or ctx is done.
func (c *Console) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	lines := make(chan string)
	readErr := make(chan error, 1)
	done := make(chan struct{})
	defer close(done)
	go func() {
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-done:
				return
			}
		}
		readErr <- sc.Err()
	}()

	fmt.Fprint(w, prompt)
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-readErr:
			return err
		case line := <-lines:
			out, quit := c.Execute(line, true)
			if out != "" {
				fmt.Fprintln(w, out)
			}
			if quit {
				return nil
			}
			fmt.Fprint(w, prompt)
		}
	}
}

func (c *Console) status() string {
	s := c.insp.Status()
	kv := orderedmap.NewOrderedMap[string, string]()
	kv.Set("Uptime", s.Uptime.Truncate(time.Second).String())
	kv.Set("Records processed", fmt.Sprint(s.TotalRecords))
	kv.Set("Records ingested", fmt.Sprint(s.Ingested))
	kv.Set("Malformed skipped", fmt.Sprint(s.Malformed))
	kv.Set("Batches written", fmt.Sprint(s.Batches))
	kv.Set("Fields tracked", fmt.Sprint(s.Fields))
	return c.keyValues("Engine status", kv)
}

func (c *Console) queue() string {
	s := c.insp.Status()
	kv := orderedmap.NewOrderedMap[string, string]()
	kv.Set("Raw records", fmt.Sprintf("%d / %d", s.RawQueued, s.RawCapacity))
	kv.Set("Analyzed batches", fmt.Sprintf("%d / %d", s.PayloadQueued, s.PayloadCapacity))
	return c.keyValues("Queues", kv)
}

func (c *Console) fieldStats(field string) string {
	sum, ok := c.insp.Summary(field)
	if !ok {
		return c.errorf("no statistics for field %q", field)
	}

	types := make([]string, len(sum.Types))
	for i, t := range sum.Types {
		types[i] = string(t)
	}

	kv := orderedmap.NewOrderedMap[string, string]()
	kv.Set("Occurrences", fmt.Sprint(sum.OccurrenceCount))
	kv.Set("Frequency", fmt.Sprintf("%.2f%%", sum.FrequencyRatio*100))
	kv.Set("Detected type", string(sum.DetectedType))
	kv.Set("Observed types", strings.Join(types, ", "))
	kv.Set("Type stable", fmt.Sprint(sum.Stable))
	kv.Set("Nested", fmt.Sprint(sum.IsNested))
	kv.Set("Distinct (est.)", fmt.Sprint(sum.DistinctEstimate))
	kv.Set("Unique ratio", fmt.Sprintf("%.4f", sum.UniqueRatio))
	kv.Set("Sample capped", fmt.Sprint(sum.Capped))
	if d, ok := c.insp.Decisions()[field]; ok {
		kv.Set("Placement", describe(d))
	}
	return c.keyValues("Field "+field, kv)
}

func describe(d policy.Decision) string {
	if !d.IsRelational() {
		return string(d.Target)
	}
	s := fmt.Sprintf("%s %s", d.Target, d.RelationalType)
	if d.EnforceUniqueness {
		s += " UNIQUE"
	}
	return s
}

var tableHeader = []string{"FIELD", "COUNT", "FREQ", "TYPE", "UNIQUE", "PLACEMENT"}

// allStats renders one row per field, most frequent first.
func (c *Console) allStats() string {
	summaries := c.insp.Summaries()
	if len(summaries) == 0 {
		return "No fields observed yet."
	}
	decisions := c.insp.Decisions()

	names := make([]string, 0, len(summaries))
	for f := range summaries {
		names = append(names, f)
	}
	sort.Slice(names, func(i, j int) bool {
		a, b := summaries[names[i]], summaries[names[j]]
		if a.OccurrenceCount != b.OccurrenceCount {
			return a.OccurrenceCount > b.OccurrenceCount
		}
		return names[i] < names[j]
	})

	rows := orderedmap.NewOrderedMap[string, []string]()
	for _, f := range names {
		s := summaries[f]
		placement := "-"
		if d, ok := decisions[f]; ok {
			placement = describe(d)
		}
		rows.Set(f, []string{
			f,
			fmt.Sprint(s.OccurrenceCount),
			fmt.Sprintf("%.2f", s.FrequencyRatio),
			string(s.DetectedType),
			fmt.Sprintf("%.3f", s.UniqueRatio),
			placement,
		})
	}
	return c.table(tableHeader, rows)
}

func (c *Console) table(header []string, rows *orderedmap.OrderedMap[string, []string]) string {
	widths := make([]int, len(header))
	for i, h := range header {
		widths[i] = runewidth.StringWidth(h)
	}
	for el := rows.Front(); el != nil; el = el.Next() {
		for i, cell := range el.Value {
			if w := runewidth.StringWidth(cell); w > widths[i] {
				widths[i] = w
			}
		}
	}

	var b strings.Builder
	b.WriteString(c.paint(color.Bold, c.line(header, widths)))
	for el := rows.Front(); el != nil; el = el.Next() {
		b.WriteByte('\n')
		b.WriteString(c.line(el.Value, widths))
	}
	return b.String()
}

func (c *Console) line(cells []string, widths []int) string {
	padded := make([]string, len(cells))
	for i, cell := range cells {
		padded[i] = runewidth.FillRight(cell, widths[i])
	}
	return strings.TrimRight(strings.Join(padded, "  "), " ")
}

func (c *Console) keyValues(title string, kv *orderedmap.OrderedMap[string, string]) string {
	width := 0
	for el := kv.Front(); el != nil; el = el.Next() {
		if w := runewidth.StringWidth(el.Key); w > width {
			width = w
		}
	}

	var b strings.Builder
	b.WriteString(c.paint(color.Cyan, title))
	for el := kv.Front(); el != nil; el = el.Next() {
		b.WriteString("\n  ")
		b.WriteString(runewidth.FillRight(el.Key+":", width+1))
		b.WriteString(" ")
		b.WriteString(el.Value)
	}
	return b.String()
}

func (c *Console) help() string {
	return c.paint(color.Cyan, "Commands") + "\n  " + strings.Join(Commands, "\n  ")
}

func (c *Console) errorf(format string, args ...any) string {
	return c.paint(color.Red, "error: "+fmt.Sprintf(format, args...))
}

func (c *Console) paint(col color.Color, s string) string {
	if !c.colorize {
		return s
	}
	return col.Sprint(s)
}
