package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"klinewatch/internal/candle"
)

type RESTClient struct {
	baseURL    string
	httpClient *http.Client
}

func NewRESTClient(baseURL string, timeout time.Duration) *RESTClient {
	return &RESTClient{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// GetKlines fetches up to limit candles for symbol/interval within
// [start, end]. Bybit returns rows newest first; the result here preserves
// that order, callers sort as needed.
func (c *RESTClient) GetKlines(ctx context.Context, category, symbol, interval string,
	start, end time.Time, limit int) ([]candle.Candle, error) {
	endpoint := fmt.Sprintf(
		"%s/v5/market/kline?category=%s&symbol=%s&interval=%s&start=%d&end=%d&limit=%d",
		c.baseURL,
		category,
		symbol,
		interval,
		start.UnixMilli(),
		end.UnixMilli(),
		limit,
	)

	// Construct the GET request with context for timeout/cancel support
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Execute the HTTP request
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	// Check HTTP status code
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("bybit error: %s", body)
	}

	var rawResp Response
	if err := json.NewDecoder(resp.Body).Decode(&rawResp); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	// Non-zero retCode is a failure embedded in the payload.
	if rawResp.RetCode != 0 {
		return nil, fmt.Errorf("bybit retCode %d: %s", rawResp.RetCode, rawResp.RetMsg)
	}
	if len(rawResp.Result) == 0 {
		return nil, fmt.Errorf("bybit response missing result")
	}

	// Decode result into KlinesResponse
	var result KlinesResponse
	if err := json.Unmarshal(rawResp.Result, &result); err != nil {
		return nil, fmt.Errorf("decode result: %w", err)
	}
	if result.List == nil {
		return nil, fmt.Errorf("bybit response missing kline list")
	}

	return ParseKlineList(result.List), nil
}

// ParseKlineList converts REST kline rows to candles, skipping rows that are
// incomplete or fail the OHLC invariant.
func ParseKlineList(raw [][]string) []candle.Candle {
	out := make([]candle.Candle, 0, len(raw))

	for _, row := range raw {
		if len(row) < 6 {
			continue // skip incomplete row
		}

		startMs, err := strconv.ParseInt(row[0], 10, 64)
		if err != nil {
			continue
		}

		c := candle.FromTick(startMs, row[1], row[2], row[3], row[4], row[5])
		if !c.Valid() {
			continue
		}
		out = append(out, c)
	}
	return out
}
