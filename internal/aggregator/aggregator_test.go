package aggregator

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/research-aggregation-service/internal/dedup"
	"github.com/helixir/research-aggregation-service/internal/domain"
	"github.com/helixir/research-aggregation-service/internal/observability"
	"github.com/helixir/research-aggregation-service/internal/papersources"
)

var fixedNow = func() time.Time { return time.Date(2025, time.June, 1, 0, 0, 0, 0, time.UTC) }

// fakeSource implements papersources.Source for testing.
type fakeSource struct {
	tag      domain.SourceTag
	disabled bool
	search   func(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error)
	calls    atomic.Int32
}

func (f *fakeSource) Search(ctx context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
	f.calls.Add(1)
	if f.search == nil {
		return &papersources.SearchResult{Source: f.tag}, nil
	}
	return f.search(ctx, params)
}

func (f *fakeSource) SourceType() domain.SourceTag { return f.tag }
func (f *fakeSource) Name() string                 { return f.tag.String() }
func (f *fakeSource) IsEnabled() bool              { return !f.disabled }

func returning(tag domain.SourceTag, titles ...string) *fakeSource {
	records := make([]domain.Record, len(titles))
	for i, title := range titles {
		records[i] = domain.Record{Title: title, Year: "2020"}
	}
	return &fakeSource{
		tag: tag,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			return &papersources.SearchResult{Records: records, Source: tag}, nil
		},
	}
}

func failing(tag domain.SourceTag, err error) *fakeSource {
	return &fakeSource{
		tag: tag,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			return nil, err
		},
	}
}

func newTestAggregator(sources []*fakeSource, opts ...Option) *Aggregator {
	registry := papersources.NewRegistry()
	for _, s := range sources {
		registry.Register(papersources.NewAdapter(s, papersources.WithAdapterClock(fixedNow)))
	}
	return New(registry, append([]Option{WithClock(fixedNow)}, opts...)...)
}

func TestSearchAll_DiabetesScenario(t *testing.T) {
	literature := &fakeSource{
		tag: domain.SourceLiterature,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			return &papersources.SearchResult{Records: []domain.Record{
				{Title: "Novel Insulin Therapy for Type 2 Diabetes", Abstract: "A randomized trial of diabetes treatment.", Year: "2024"},
				{Title: "Metformin dosing in renal impairment", Year: "2019"},
				{Title: "Lifestyle intervention outcomes", Abstract: "Diet and exercise for diabetes.", Year: "2023"},
				{Title: "Glycemic variability review", Year: "2015"},
			}}, nil
		},
	}
	preprint := &fakeSource{
		tag: domain.SourcePreprint,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			return &papersources.SearchResult{Records: []domain.Record{
				{Title: "NOVEL insulin THERAPY for type 2 diabetes.", Year: "2024"},
				{Title: "Deep learning for retinopathy screening", Year: "2022"},
				{Title: "Closed-loop insulin delivery simulation", Year: "2021"},
			}}, nil
		},
	}
	web := returning(domain.SourceWeb, "CDC diabetes treatment guidance")

	agg := newTestAggregator([]*fakeSource{literature, preprint, web})

	resp, err := agg.SearchAll(context.Background(), "diabetes treatment",
		domain.EnabledSources{Literature: true, Preprint: true, Web: false}, 5)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceStats{Literature: 4, Preprint: 3, Web: 0}, resp.SourceStats)
	require.Len(t, resp.Results, 6)
	assert.Equal(t, 1, resp.DuplicatesRemoved)
	assert.Equal(t, int32(0), web.calls.Load(), "disabled source is not queried")

	var insulin []domain.Record
	for _, r := range resp.Results {
		if dedup.NormalizeTitle(r.Title) == "novel insulin therapy for type 2 diabetes" {
			insulin = append(insulin, r)
		}
	}
	require.Len(t, insulin, 1)
	assert.Equal(t, domain.SourceLiterature, insulin[0].Source)

	top := resp.Results[0].RelevanceScore
	bottom := resp.Results[len(resp.Results)-1].RelevanceScore
	assert.Greater(t, top, bottom)

	for i := 1; i < len(resp.Results); i++ {
		assert.GreaterOrEqual(t, resp.Results[i-1].RelevanceScore, resp.Results[i].RelevanceScore)
	}
}

func TestSearchAll_PartialFailure(t *testing.T) {
	agg := newTestAggregator([]*fakeSource{
		returning(domain.SourceLiterature, "Insulin study A", "Insulin study B"),
		failing(domain.SourcePreprint, errors.New("connection reset")),
		returning(domain.SourceWeb, "Web page on insulin"),
	})

	resp, err := agg.SearchAll(context.Background(), "insulin", domain.AllSources(), 5)
	require.NoError(t, err)

	assert.Equal(t, domain.SourceStats{Literature: 2, Preprint: 0, Web: 1}, resp.SourceStats)
	assert.Len(t, resp.Results, 3)
}

func TestSearchAll_TotalFailure(t *testing.T) {
	panicking := &fakeSource{
		tag: domain.SourceWeb,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			panic("unexpected payload")
		},
	}
	agg := newTestAggregator([]*fakeSource{
		failing(domain.SourceLiterature, errors.New("503")),
		failing(domain.SourcePreprint, errors.New("bad xml")),
		panicking,
	})

	resp, err := agg.SearchAll(context.Background(), "anything", domain.AllSources(), 5)
	require.NoError(t, err)

	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.Equal(t, domain.SourceStats{}, resp.SourceStats)
}

func TestSearchAll_InvalidInput(t *testing.T) {
	agg := newTestAggregator([]*fakeSource{returning(domain.SourceWeb, "x")})

	t.Run("no sources enabled", func(t *testing.T) {
		_, err := agg.SearchAll(context.Background(), "q", domain.EnabledSources{}, 5)
		assert.ErrorIs(t, err, domain.ErrNoSourcesEnabled)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})

	t.Run("empty query", func(t *testing.T) {
		_, err := agg.SearchAll(context.Background(), "   ", domain.AllSources(), 5)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)

		var verr *domain.ValidationError
		require.True(t, errors.As(err, &verr))
		assert.Equal(t, "query", verr.Field)
	})

	t.Run("non-positive max per source", func(t *testing.T) {
		_, err := agg.SearchAll(context.Background(), "q", domain.AllSources(), 0)
		assert.ErrorIs(t, err, domain.ErrInvalidInput)
	})
}

func TestSearchAll_RunsSourcesConcurrently(t *testing.T) {
	var started sync.WaitGroup
	started.Add(3)
	allStarted := make(chan struct{})
	go func() {
		started.Wait()
		close(allStarted)
	}()

	barrier := func(tag domain.SourceTag) *fakeSource {
		return &fakeSource{
			tag: tag,
			search: func(ctx context.Context, _ papersources.SearchParams) (*papersources.SearchResult, error) {
				started.Done()
				select {
				case <-allStarted:
				case <-ctx.Done():
					return nil, ctx.Err()
				}
				return &papersources.SearchResult{Records: []domain.Record{{Title: "From " + tag.String()}}}, nil
			},
		}
	}

	agg := newTestAggregator([]*fakeSource{
		barrier(domain.SourceLiterature),
		barrier(domain.SourcePreprint),
		barrier(domain.SourceWeb),
	}, WithAdapterTimeout(2*time.Second))

	resp, err := agg.SearchAll(context.Background(), "q", domain.AllSources(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStats{Literature: 1, Preprint: 1, Web: 1}, resp.SourceStats)
}

func TestSearchAll_AdapterTimeout(t *testing.T) {
	hanging := &fakeSource{
		tag: domain.SourcePreprint,
		search: func(ctx context.Context, _ papersources.SearchParams) (*papersources.SearchResult, error) {
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}

	var buf bytes.Buffer
	agg := newTestAggregator([]*fakeSource{
		returning(domain.SourceLiterature, "Fast result"),
		hanging,
	}, WithAdapterTimeout(50*time.Millisecond), WithLogger(zerolog.New(&buf)))

	start := time.Now()
	resp, err := agg.SearchAll(context.Background(), "q",
		domain.EnabledSources{Literature: true, Preprint: true}, 5)
	require.NoError(t, err)

	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, domain.SourceStats{Literature: 1}, resp.SourceStats)
	assert.Contains(t, buf.String(), "source exceeded adapter timeout")
}

func TestSearchAll_MissingAdapterContributesNothing(t *testing.T) {
	agg := newTestAggregator([]*fakeSource{returning(domain.SourceLiterature, "Only literature")})

	resp, err := agg.SearchAll(context.Background(), "q", domain.AllSources(), 5)
	require.NoError(t, err)
	assert.Equal(t, domain.SourceStats{Literature: 1}, resp.SourceStats)
}

func TestSearchAll_SourceQualityOrdering(t *testing.T) {
	agg := newTestAggregator([]*fakeSource{
		returning(domain.SourceWeb, "Gamma page"),
		returning(domain.SourcePreprint, "Beta preprint"),
		returning(domain.SourceLiterature, "Alpha article"),
	})

	resp, err := agg.SearchAll(context.Background(), "unrelated", domain.AllSources(), 5)
	require.NoError(t, err)
	require.Len(t, resp.Results, 3)

	assert.Equal(t, domain.SourceLiterature, resp.Results[0].Source)
	assert.Equal(t, domain.SourcePreprint, resp.Results[1].Source)
	assert.Equal(t, domain.SourceWeb, resp.Results[2].Source)
	assert.Greater(t, resp.Results[0].RelevanceScore, resp.Results[1].RelevanceScore)
	assert.Greater(t, resp.Results[1].RelevanceScore, resp.Results[2].RelevanceScore)
}

func TestSearchAll_CrossSourceDuplicateWinner(t *testing.T) {
	// Literature answers last but still wins because slots follow canonical order.
	slowLiterature := &fakeSource{
		tag: domain.SourceLiterature,
		search: func(context.Context, papersources.SearchParams) (*papersources.SearchResult, error) {
			time.Sleep(30 * time.Millisecond)
			return &papersources.SearchResult{Records: []domain.Record{{Title: "Shared title on sepsis"}}}, nil
		},
	}

	for i := 0; i < 5; i++ {
		agg := newTestAggregator([]*fakeSource{
			slowLiterature,
			returning(domain.SourceWeb, "shared TITLE on sepsis"),
		})

		resp, err := agg.SearchAll(context.Background(), "sepsis", domain.AllSources(), 5)
		require.NoError(t, err)
		require.Len(t, resp.Results, 1)
		assert.Equal(t, domain.SourceLiterature, resp.Results[0].Source)
		assert.Equal(t, domain.SourceStats{Literature: 1, Web: 1}, resp.SourceStats)
	}
}

func TestSearchAll_PassesMaxPerSource(t *testing.T) {
	var got atomic.Int32
	src := &fakeSource{
		tag: domain.SourceLiterature,
		search: func(_ context.Context, params papersources.SearchParams) (*papersources.SearchResult, error) {
			got.Store(int32(params.MaxResults))
			return &papersources.SearchResult{Records: []domain.Record{{Title: "a"}, {Title: "b"}, {Title: "c"}}}, nil
		},
	}
	agg := newTestAggregator([]*fakeSource{src})

	resp, err := agg.SearchAll(context.Background(), "q", domain.EnabledSources{Literature: true}, 2)
	require.NoError(t, err)
	assert.Equal(t, int32(2), got.Load())
	assert.Len(t, resp.Results, 2)
	assert.Equal(t, 2, resp.SourceStats.Literature)
}

func TestSearchAll_Metrics(t *testing.T) {
	metrics := observability.NewMetrics("test_aggregator_search")
	agg := newTestAggregator([]*fakeSource{
		returning(domain.SourceLiterature, "Same title", "same title!"),
	}, WithMetrics(metrics))

	_, err := agg.SearchAll(context.Background(), "q", domain.EnabledSources{Literature: true}, 5)
	require.NoError(t, err)
	_, err = agg.SearchAll(context.Background(), "q", domain.EnabledSources{Web: true}, 5)
	require.NoError(t, err)

	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SearchesStarted))
	assert.Equal(t, float64(2), testutil.ToFloat64(metrics.SearchesCompleted))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.SearchesEmpty))
	assert.Equal(t, float64(1), testutil.ToFloat64(metrics.DuplicatesRemoved))
}

func TestSearchAll_LogsRequestContext(t *testing.T) {
	var buf bytes.Buffer
	agg := newTestAggregator([]*fakeSource{returning(domain.SourceWeb, "x")}, WithLogger(zerolog.New(&buf)))

	ctx := observability.WithRequestID(context.Background(), "req-42")
	_, err := agg.SearchAll(ctx, "asthma", domain.EnabledSources{Web: true}, 5)
	require.NoError(t, err)

	out := buf.String()
	assert.Contains(t, out, `"request_id":"req-42"`)
	assert.Contains(t, out, `"query":"asthma"`)
	assert.Contains(t, out, `"component":"aggregator"`)
	assert.Contains(t, out, "search completed")
}
