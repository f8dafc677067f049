package graph

import (
	"context"
	stderrors "errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ajitpratap0/cdcsync/pkg/errors"
)

// graphRunner answers the count queries from a fixed snapshot
func graphRunner(c Counts) *fakeRunner {
	return &fakeRunner{read: func(_ int, cypher string) ([]map[string]any, error) {
		switch cypher {
		case nodeCountQuery:
			return []map[string]any{{"count": c.Nodes}}, nil
		case relationshipCountQuery:
			return []map[string]any{{"count": c.Relationships}}, nil
		case labelCountQuery:
			var rows []map[string]any
			for l, n := range c.Labels {
				rows = append(rows, map[string]any{"label": l, "count": n})
			}
			return rows, nil
		}
		return nil, stderrors.New("unexpected query")
	}}
}

func TestCompareGraphs_InSync(t *testing.T) {
	master := graphRunner(Counts{Nodes: 150, Relationships: 400, Labels: map[string]int64{"Person": 100, "Post": 50}})
	subscriber := graphRunner(Counts{Nodes: 150, Relationships: 400, Labels: map[string]int64{
		"Person": 100, "Post": 50, SourceEventLabel: 150,
	}})

	cmp, err := CompareGraphs(context.Background(), master, subscriber)
	require.NoError(t, err)
	assert.True(t, cmp.InSync)
	assert.Equal(t, int64(150), cmp.TrackedNodes)

	require.Len(t, cmp.Rows, 5)
	assert.Equal(t, "Total Nodes", cmp.Rows[0].Metric)
	assert.Equal(t, "Total Relationships", cmp.Rows[1].Metric)
	assert.Equal(t, "Person Nodes", cmp.Rows[2].Metric)
	assert.Equal(t, "Post Nodes", cmp.Rows[3].Metric)
	assert.Equal(t, ComparisonRow{Metric: "SourceEvent Nodes", Master: 0, Subscriber: 150, Status: StatusTracking}, cmp.Rows[4])
	assert.Len(t, master.reads, 3)
	assert.Len(t, subscriber.reads, 3)
}

func TestCompare_Mismatch(t *testing.T) {
	tests := []struct {
		name       string
		master     Counts
		subscriber Counts
		metric     string
	}{
		{
			name:       "relationships still propagating",
			master:     Counts{Nodes: 10, Relationships: 20, Labels: map[string]int64{"Person": 10}},
			subscriber: Counts{Nodes: 10, Relationships: 12, Labels: map[string]int64{"Person": 10}},
			metric:     "Total Relationships",
		},
		{
			name:       "label missing on subscriber",
			master:     Counts{Nodes: 10, Labels: map[string]int64{"Person": 8, "Company": 2}},
			subscriber: Counts{Nodes: 10, Labels: map[string]int64{"Person": 10}},
			metric:     "Company Nodes",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmp := Compare(tt.master, tt.subscriber)
			assert.False(t, cmp.InSync)
			var found bool
			for _, r := range cmp.Rows {
				if r.Metric == tt.metric {
					found = true
					assert.Equal(t, StatusMismatch, r.Status)
				}
			}
			assert.True(t, found, "row %q", tt.metric)
		})
	}
}

func TestCompare_SourceEventOnlyDoesNotBreakSync(t *testing.T) {
	cmp := Compare(
		Counts{Labels: map[string]int64{}},
		Counts{Labels: map[string]int64{SourceEventLabel: 3}},
	)
	assert.True(t, cmp.InSync)
	assert.Equal(t, int64(3), cmp.TrackedNodes)
}

func TestCompareGraphs_ReadError(t *testing.T) {
	master := graphRunner(Counts{})
	subscriber := &fakeRunner{read: func(int, string) ([]map[string]any, error) {
		return nil, stderrors.New("Neo.ClientError.Security.Unauthorized")
	}}

	_, err := CompareGraphs(context.Background(), master, subscriber)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeQuery))
	assert.Equal(t, "subscriber", errors.DetailOf(err, "database"))
}

func TestCountGraph_IntegerKinds(t *testing.T) {
	r := &fakeRunner{read: func(_ int, cypher string) ([]map[string]any, error) {
		if cypher == labelCountQuery {
			return []map[string]any{{"label": "Person", "count": 4}, {"label": nil, "count": int64(1)}}, nil
		}
		return nil, nil
	}}
	c, err := CountGraph(context.Background(), r)
	require.NoError(t, err)
	assert.Zero(t, c.Nodes)
	assert.Equal(t, map[string]int64{"Person": 4}, c.Labels)
}
