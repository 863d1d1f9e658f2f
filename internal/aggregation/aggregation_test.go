package aggregation

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	eventdomain "github.com/smallbiznis/usageguard/internal/event/domain"
	eventrepo "github.com/smallbiznis/usageguard/internal/event/repository"
	"github.com/smallbiznis/usageguard/internal/meter"
	meterdomain "github.com/smallbiznis/usageguard/internal/meter/domain"
)

var testDay = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func newTestTranslator(t *testing.T) (*Translator, eventdomain.Repository) {
	t.Helper()

	gdb, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{
		Logger: logger.Discard,
	})
	require.NoError(t, err)
	require.NoError(t, gdb.AutoMigrate(&eventdomain.UsageEvent{}))

	catalog, err := meterdomain.NewCatalog(meter.DefaultMetrics())
	require.NoError(t, err)

	repo := eventrepo.Provide(gdb)
	return NewTranslator(meter.NewStaticHolder(catalog), repo), repo
}

func seedEvents(t *testing.T, repo eventdomain.Repository, events []*eventdomain.UsageEvent) {
	t.Helper()
	node, err := snowflake.NewNode(1)
	require.NoError(t, err)
	for _, ev := range events {
		ev.ID = node.Generate()
	}
	written, err := repo.InsertBatch(context.Background(), events)
	require.NoError(t, err)
	require.Equal(t, int64(len(events)), written)
}

func apiCall(txn, customer string, at time.Time, props datatypes.JSONMap) *eventdomain.UsageEvent {
	return &eventdomain.UsageEvent{
		TransactionID: txn,
		CustomerID:    customer,
		EventType:     "api_call",
		RecordedAt:    at,
		Properties:    props,
	}
}

func TestAggregateCount(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay.Add(1*time.Hour), nil),
		apiCall("txn_2", "cust_1", testDay.Add(2*time.Hour), nil),
		apiCall("txn_3", "cust_1", testDay.Add(3*time.Hour), nil),
		apiCall("txn_4", "cust_2", testDay.Add(1*time.Hour), nil),
	})

	res, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "api_calls",
		Start:      testDay,
		End:        testDay.Add(24*time.Hour - time.Millisecond),
	})
	require.NoError(t, err)
	assert.Equal(t, meterdomain.AggregationCount, res.Aggregation)
	assert.Equal(t, 3.0, res.Value)
	assert.Nil(t, res.Groups)
}

// The query range is inclusive on both ends.
func TestAggregateRangeInclusive(t *testing.T) {
	tr, repo := newTestTranslator(t)
	edge := testDay.Add(6 * time.Hour)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay, nil),
		apiCall("txn_2", "cust_1", edge, nil),
		apiCall("txn_3", "cust_1", edge.Add(time.Millisecond), nil),
	})

	res, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "api_calls",
		Start:      testDay,
		End:        edge,
	})
	require.NoError(t, err)
	assert.Equal(t, 2.0, res.Value)
}

func TestAggregateSumLenient(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		{TransactionID: "txn_1", CustomerID: "cust_1", EventType: "data_transfer", RecordedAt: testDay.Add(time.Hour),
			Properties: datatypes.JSONMap{"bytes": 1024.0}},
		{TransactionID: "txn_2", CustomerID: "cust_1", EventType: "data_transfer", RecordedAt: testDay.Add(2 * time.Hour),
			Properties: datatypes.JSONMap{"bytes": "2048"}},
		// No bytes property: skipped, not an error.
		{TransactionID: "txn_3", CustomerID: "cust_1", EventType: "data_transfer", RecordedAt: testDay.Add(3 * time.Hour),
			Properties: datatypes.JSONMap{"region": "eu"}},
		// Non-numeric bytes: skipped.
		{TransactionID: "txn_4", CustomerID: "cust_1", EventType: "data_transfer", RecordedAt: testDay.Add(4 * time.Hour),
			Properties: datatypes.JSONMap{"bytes": "lots"}},
	})

	res, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "data_transfer",
		Start:      testDay,
		End:        testDay.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 3072.0, res.Value)
	assert.Equal(t, "byte", res.Unit)
}

func TestAggregateMax(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay.Add(time.Hour), datatypes.JSONMap{"payload_size": 100.0}),
		apiCall("txn_2", "cust_1", testDay.Add(2*time.Hour), datatypes.JSONMap{"payload_size": 500.0}),
		apiCall("txn_3", "cust_1", testDay.Add(3*time.Hour), datatypes.JSONMap{"payload_size": 250.0}),
	})

	res, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "peak_payload",
		Start:      testDay,
		End:        testDay.Add(24 * time.Hour),
	})
	require.NoError(t, err)
	assert.Equal(t, 500.0, res.Value)
}

func TestAggregateGroupBy(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay.Add(1*time.Hour), datatypes.JSONMap{"endpoint": "/v1/users"}),
		apiCall("txn_2", "cust_1", testDay.Add(2*time.Hour), datatypes.JSONMap{"endpoint": "/v1/users"}),
		apiCall("txn_3", "cust_1", testDay.Add(3*time.Hour), datatypes.JSONMap{"endpoint": "/v1/orders"}),
		// Missing group property falls into the empty bucket.
		apiCall("txn_4", "cust_1", testDay.Add(4*time.Hour), nil),
	})

	res, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "api_calls",
		Start:      testDay,
		End:        testDay.Add(24 * time.Hour),
		GroupBy:    "endpoint",
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{
		"/v1/users":  2,
		"/v1/orders": 1,
		"":           1,
	}, res.Groups)
	// The scalar is the ungrouped aggregate, equal to the group total.
	assert.Equal(t, 4.0, res.Value)
}

func TestAggregateUnknownMetric(t *testing.T) {
	tr, _ := newTestTranslator(t)

	_, err := tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "no_such_metric",
		Start:      testDay,
		End:        testDay.Add(time.Hour),
	})
	assert.ErrorIs(t, err, meterdomain.ErrUnknownMetric)
}

func TestAggregateMissingProperty(t *testing.T) {
	catalog, err := meterdomain.NewCatalog([]meterdomain.BillableMetric{
		{Code: "broken_sum", EventType: "data_transfer", Aggregation: meterdomain.AggregationSum},
	})
	require.NoError(t, err)

	_, repo := newTestTranslator(t)
	tr := NewTranslator(meter.NewStaticHolder(catalog), repo)

	_, err = tr.Aggregate(context.Background(), Query{
		CustomerID: "cust_1",
		MetricCode: "broken_sum",
		Start:      testDay,
		End:        testDay.Add(time.Hour),
	})
	assert.ErrorIs(t, err, meterdomain.ErrMissingProperty)
}

func TestHourlyVector(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay.Add(9*time.Hour), nil),
		apiCall("txn_2", "cust_1", testDay.Add(9*time.Hour+30*time.Minute), nil),
		apiCall("txn_3", "cust_1", testDay.Add(17*time.Hour), nil),
		// Previous day: outside the vector.
		apiCall("txn_4", "cust_1", testDay.Add(-time.Hour), nil),
	})

	vector, err := tr.HourlyVector(context.Background(), "cust_1", "api_calls", testDay)
	require.NoError(t, err)
	assert.Equal(t, 2.0, vector[9])
	assert.Equal(t, 1.0, vector[17])
	assert.Equal(t, 0.0, vector[0])
}

func TestDailySeriesSkipsEmptyDays(t *testing.T) {
	tr, repo := newTestTranslator(t)
	seedEvents(t, repo, []*eventdomain.UsageEvent{
		apiCall("txn_1", "cust_1", testDay, nil),
		apiCall("txn_2", "cust_1", testDay.Add(time.Hour), nil),
		// Day+1 has no events.
		apiCall("txn_3", "cust_1", testDay.Add(48*time.Hour), nil),
	})

	series, err := tr.DailySeries(context.Background(), "cust_1", "api_calls", testDay, testDay.Add(72*time.Hour))
	require.NoError(t, err)
	require.Len(t, series, 2)
	assert.Equal(t, testDay, series[0].Day)
	assert.Equal(t, 2.0, series[0].Value)
	assert.Equal(t, testDay.Add(48*time.Hour), series[1].Day)
	assert.Equal(t, 1.0, series[1].Value)
}
