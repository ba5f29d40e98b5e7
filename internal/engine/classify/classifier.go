// Package classify maps raw metric values to categorical states via ordered
// threshold rules, and composes the queue-length and wait-time categories
// into a single service status.
package classify

import (
	"fmt"
	"math"
	"sort"

	"github.com/facmon/facmon/internal/config"
	apperrors "github.com/facmon/facmon/internal/errors"
)

// Category is a classified state for one metric value. Rank is the position
// of the category in its table, ascending with severity; the terminal
// open-ended category has the highest rank.
type Category struct {
	Name string
	Rank int
}

// ServiceStatus is the composite display state derived from the queue-length
// and wait-time categories.
type ServiceStatus struct {
	Name string
	Rank int
}

// Table is the compiled classification table for one metric. It is built
// once at startup from configuration and is immutable afterwards, so it is
// safe for concurrent use without locking.
type Table struct {
	metric   string
	bounds   []float64
	names    []string
	terminal string
}

// NewTable compiles a threshold table. Rules must already be validated
// (ascending finite bounds, named categories, named terminal).
func NewTable(metric string, table config.ThresholdTable) (*Table, error) {
	if err := table.Validate(); err != nil {
		return nil, apperrors.Wrapf(err, "compile table for %s", metric)
	}

	t := &Table{
		metric:   metric,
		bounds:   make([]float64, len(table.Rules)),
		names:    make([]string, len(table.Rules)),
		terminal: table.Terminal,
	}
	for i, rule := range table.Rules {
		t.bounds[i] = rule.UpperBound
		t.names[i] = rule.Category
	}
	return t, nil
}

// Classify maps a value to its category. The first rule whose upper bound is
// >= the value wins, so boundary values belong to the lower category. Values
// above every bound classify into the terminal category. Classify is pure
// and total over the real line; NaN classifies terminal rather than
// poisoning comparisons.
func (t *Table) Classify(value float64) Category {
	if !math.IsNaN(value) {
		idx := sort.SearchFloat64s(t.bounds, value)
		if idx < len(t.bounds) {
			return Category{Name: t.names[idx], Rank: idx}
		}
	}
	return Category{Name: t.terminal, Rank: len(t.bounds)}
}

// TerminalRank returns the rank of the open-ended terminal category.
func (t *Table) TerminalRank() int {
	return len(t.bounds)
}

// Metric returns the metric name this table classifies.
func (t *Table) Metric() string {
	return t.metric
}

// Categories returns all category names in ascending severity order,
// terminal last.
func (t *Table) Categories() []string {
	out := make([]string, 0, len(t.names)+1)
	out = append(out, t.names...)
	return append(out, t.terminal)
}

// Classifier holds the compiled tables for every configured metric plus the
// composite service-status rule. Immutable after construction.
type Classifier struct {
	tables map[string]*Table

	queueMetric string
	waitMetric  string
	statuses    []string
}

// New compiles a classifier from configuration. An unknown metric referenced
// by the service-status rule, or a malformed table, is fatal here so the
// engine never serves with a partial classifier.
func New(cfg *config.Config) (*Classifier, error) {
	verrs := apperrors.NewValidationErrors()

	tables := make(map[string]*Table, len(cfg.Thresholds))
	for metric, tc := range cfg.Thresholds {
		table, err := NewTable(metric, tc)
		if err != nil {
			verrs.Add(err)
			continue
		}
		tables[metric] = table
	}

	if _, ok := tables[cfg.ServiceStatus.QueueMetric]; !ok {
		verrs.AddField("service_status.queue_metric",
			fmt.Sprintf("no threshold table for %q", cfg.ServiceStatus.QueueMetric))
	}
	if _, ok := tables[cfg.ServiceStatus.WaitMetric]; !ok {
		verrs.AddField("service_status.wait_metric",
			fmt.Sprintf("no threshold table for %q", cfg.ServiceStatus.WaitMetric))
	}
	if len(cfg.ServiceStatus.Statuses) < 2 {
		verrs.AddField("service_status.statuses", "at least two statuses required")
	}

	if verrs.HasErrors() {
		return nil, verrs.Err()
	}

	return &Classifier{
		tables:      tables,
		queueMetric: cfg.ServiceStatus.QueueMetric,
		waitMetric:  cfg.ServiceStatus.WaitMetric,
		statuses:    cfg.ServiceStatus.Statuses,
	}, nil
}

// Classify maps a metric value to its category. A metric with no configured
// table reports ErrUnknownMetric; that situation is a configuration problem
// surfaced at setup, not a data fault.
func (c *Classifier) Classify(metric string, value float64) (Category, error) {
	table, ok := c.tables[metric]
	if !ok {
		return Category{}, apperrors.Wrapf(apperrors.ErrUnknownMetric, "classify %s", metric)
	}
	return table.Classify(value), nil
}

// Table returns the compiled table for a metric.
func (c *Classifier) Table(metric string) (*Table, bool) {
	t, ok := c.tables[metric]
	return t, ok
}

// Metrics returns the names of all classifiable metrics.
func (c *Classifier) Metrics() []string {
	out := make([]string, 0, len(c.tables))
	for metric := range c.tables {
		out = append(out, metric)
	}
	sort.Strings(out)
	return out
}

// ServiceStatus composes the queue-length and wait-time categories into the
// display status. Precedence is explicit and deterministic:
//
//  1. If either dimension is in its table's terminal category, the composite
//     is the highest configured status.
//  2. Otherwise the more severe (higher rank) of the two categories selects
//     the status at that rank.
func (c *Classifier) ServiceStatus(queueValue, waitValue float64) (ServiceStatus, error) {
	queueTable := c.tables[c.queueMetric]
	waitTable := c.tables[c.waitMetric]

	queueCat := queueTable.Classify(queueValue)
	waitCat := waitTable.Classify(waitValue)

	terminalRank := len(c.statuses) - 1
	if queueCat.Rank == queueTable.TerminalRank() || waitCat.Rank == waitTable.TerminalRank() {
		return ServiceStatus{Name: c.statuses[terminalRank], Rank: terminalRank}, nil
	}

	rank := queueCat.Rank
	if waitCat.Rank > rank {
		rank = waitCat.Rank
	}
	if rank > terminalRank {
		rank = terminalRank
	}
	return ServiceStatus{Name: c.statuses[rank], Rank: rank}, nil
}

// QueueMetric returns the metric classified for the queue dimension.
func (c *Classifier) QueueMetric() string {
	return c.queueMetric
}

// WaitMetric returns the metric classified for the wait dimension.
func (c *Classifier) WaitMetric() string {
	return c.waitMetric
}
