package graph

import (
	"context"
	"sort"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

const (
	nodeCountQuery         = "MATCH (n) RETURN count(n) AS count"
	relationshipCountQuery = "MATCH ()-[r]->() RETURN count(r) AS count"
	labelCountQuery        = `MATCH (n)
UNWIND labels(n) AS label
RETURN label, count(*) AS count`
)

// SourceEventLabel is added by the sink connector to every replicated node,
// so it exists only on the subscriber.
const SourceEventLabel = "SourceEvent"

// Row verdicts
const (
	StatusMatch    = "match"
	StatusMismatch = "mismatch"
	StatusTracking = "tracking"
)

// Counts summarizes one graph
type Counts struct {
	Nodes         int64            `json:"nodes" yaml:"nodes"`
	Relationships int64            `json:"relationships" yaml:"relationships"`
	Labels        map[string]int64 `json:"labels" yaml:"labels"`
}

// CountGraph reads node, relationship and per-label counts
func CountGraph(ctx context.Context, r Runner) (Counts, error) {
	var c Counts

	rows, err := r.Read(ctx, nodeCountQuery, nil)
	if err != nil {
		return c, errors.Wrap(err, errors.ErrorTypeQuery, "count nodes")
	}
	c.Nodes = firstCount(rows)

	rows, err = r.Read(ctx, relationshipCountQuery, nil)
	if err != nil {
		return c, errors.Wrap(err, errors.ErrorTypeQuery, "count relationships")
	}
	c.Relationships = firstCount(rows)

	rows, err = r.Read(ctx, labelCountQuery, nil)
	if err != nil {
		return c, errors.Wrap(err, errors.ErrorTypeQuery, "count labels")
	}
	c.Labels = make(map[string]int64, len(rows))
	for _, row := range rows {
		label, ok := row["label"].(string)
		if !ok {
			continue
		}
		c.Labels[label] = asInt64(row["count"])
	}
	return c, nil
}

// ComparisonRow is one line of a master/subscriber comparison
type ComparisonRow struct {
	Metric     string `json:"metric" yaml:"metric"`
	Master     int64  `json:"master" yaml:"master"`
	Subscriber int64  `json:"subscriber" yaml:"subscriber"`
	Status     string `json:"status" yaml:"status"`
}

// Comparison is the verdict of comparing master with subscriber
type Comparison struct {
	Rows []ComparisonRow `json:"rows" yaml:"rows"`
	// InSync is true when totals and every label except SourceEvent match
	InSync bool `json:"in_sync" yaml:"in_sync"`
	// TrackedNodes is the subscriber's SourceEvent count
	TrackedNodes int64 `json:"tracked_nodes" yaml:"tracked_nodes"`
}

// Compare judges two count snapshots. Labels are listed alphabetically after
// the totals.
func Compare(master, subscriber Counts) Comparison {
	cmp := Comparison{InSync: true}
	add := func(metric string, m, s int64) {
		status := StatusMatch
		if m != s {
			status = StatusMismatch
			cmp.InSync = false
		}
		cmp.Rows = append(cmp.Rows, ComparisonRow{Metric: metric, Master: m, Subscriber: s, Status: status})
	}

	add("Total Nodes", master.Nodes, subscriber.Nodes)
	add("Total Relationships", master.Relationships, subscriber.Relationships)

	labels := make(map[string]struct{}, len(master.Labels)+len(subscriber.Labels))
	for l := range master.Labels {
		labels[l] = struct{}{}
	}
	for l := range subscriber.Labels {
		labels[l] = struct{}{}
	}
	names := make([]string, 0, len(labels))
	for l := range labels {
		names = append(names, l)
	}
	sort.Strings(names)

	for _, l := range names {
		if l == SourceEventLabel {
			cmp.TrackedNodes = subscriber.Labels[l]
			cmp.Rows = append(cmp.Rows, ComparisonRow{
				Metric:     l + " Nodes",
				Master:     master.Labels[l],
				Subscriber: subscriber.Labels[l],
				Status:     StatusTracking,
			})
			continue
		}
		add(l+" Nodes", master.Labels[l], subscriber.Labels[l])
	}
	return cmp
}

// CompareGraphs counts both graphs and compares them
func CompareGraphs(ctx context.Context, master, subscriber Runner) (Comparison, error) {
	m, err := CountGraph(ctx, master)
	if err != nil {
		return Comparison{}, errors.Wrap(err, errors.ErrorTypeQuery, "read master graph").
			WithDetail("database", "master")
	}
	s, err := CountGraph(ctx, subscriber)
	if err != nil {
		return Comparison{}, errors.Wrap(err, errors.ErrorTypeQuery, "read subscriber graph").
			WithDetail("database", "subscriber")
	}
	return Compare(m, s), nil
}

func firstCount(rows []map[string]any) int64 {
	if len(rows) == 0 {
		return 0
	}
	return asInt64(rows[0]["count"])
}

func asInt64(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}
