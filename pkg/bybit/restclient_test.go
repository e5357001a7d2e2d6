package bybit

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetKlines(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v5/market/kline", r.URL.Path)
		q := r.URL.Query()
		assert.Equal(t, "spot", q.Get("category"))
		assert.Equal(t, "BTCUSDT", q.Get("symbol"))
		assert.Equal(t, "1", q.Get("interval"))
		assert.Equal(t, "200", q.Get("limit"))

		fmt.Fprint(w, `{
			"retCode": 0,
			"retMsg": "OK",
			"result": {
				"category": "spot",
				"list": [
					["1700000060000", "101", "102", "100", "101.5", "2", "203"],
					["1700000000000", "100", "101", "99", "101", "1", "101"]
				]
			}
		}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	end := time.Now()
	start := end.Add(-4 * time.Hour)
	candles, err := client.GetKlines(context.Background(), "spot", "BTCUSDT", "1", start, end, 200)
	require.NoError(t, err)

	require.Len(t, candles, 2)
	assert.Equal(t, int64(1700000060), candles[0].Time)
	assert.Equal(t, 101.5, candles[0].Close)
	assert.Equal(t, int64(1700000000), candles[1].Time)
	assert.Equal(t, 1.0, candles[1].Volume)
}

func TestGetKlinesNonZeroRetCode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode": 10001, "retMsg": "params error", "result": {}}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	_, err := client.GetKlines(context.Background(), "spot", "BTCUSDT", "1",
		time.Now().Add(-time.Hour), time.Now(), 200)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "retCode 10001")
}

func TestGetKlinesMissingList(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"retCode": 0, "retMsg": "OK", "result": {"category": "spot"}}`)
	}))
	defer srv.Close()

	client := NewRESTClient(srv.URL, 5*time.Second)

	_, err := client.GetKlines(context.Background(), "spot", "BTCUSDT", "1",
		time.Now().Add(-time.Hour), time.Now(), 200)
	require.Error(t, err)
}

func TestParseKlineListSkipsBadRows(t *testing.T) {
	rows := [][]string{
		{"1700000000000", "100", "101", "99", "100.5", "1"},
		{"garbage", "100", "101", "99", "100.5", "1"},       // bad start
		{"1700000060000", "x", "101", "99", "100.5", "1"},   // bad open
		{"1700000120000", "100", "99", "101", "100.5", "1"}, // high < low
		{"1700000180000", "100"},                            // incomplete
	}

	candles := ParseKlineList(rows)

	require.Len(t, candles, 1)
	assert.Equal(t, int64(1700000000), candles[0].Time)
}

func TestKlineIntervalIsValid(t *testing.T) {
	assert.True(t, Interval1Min.IsValid())
	assert.True(t, IntervalDaily.IsValid())
	assert.False(t, KlineInterval("7").IsValid())
	assert.False(t, KlineInterval("").IsValid())
}

func TestIntervalMinutes(t *testing.T) {
	assert.Equal(t, 1, IntervalMinutes("1"))
	assert.Equal(t, 30, IntervalMinutes("30"))
	assert.Equal(t, 240, IntervalMinutes("240"))
	assert.Equal(t, 1440, IntervalMinutes("D"))
	assert.Equal(t, 1, IntervalMinutes("bogus"), "unknown codes default to 1 minute")
}
