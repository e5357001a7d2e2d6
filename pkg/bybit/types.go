package bybit

import "encoding/json"

// Response represents a generic response from Bybit's V5 REST API.
// This structure covers the standard response envelope used across all endpoints.
type Response struct {
	RetCode    int                    `json:"retCode"`    // 0 means success; non-zero indicates an error code
	RetMsg     string                 `json:"retMsg"`     // Human-readable message describing the result or error
	Result     json.RawMessage        `json:"result"`     // Delay decoding // Main response payload (varies per endpoint)
	RetExtInfo map[string]interface{} `json:"retExtInfo"` // Optional extra info (e.g. rate limits, error hints)
	Time       int64                  `json:"time"`       // Server timestamp (in milliseconds since epoch)
}

// KlinesResponse is the result payload of /v5/market/kline. Each list row is
// [startTimeMs, open, high, low, close, volume, turnover] as strings, newest
// first.
type KlinesResponse struct {
	Category       string     `json:"category"` // e.g., "linear", "spot"
	NextPageCursor string     `json:"nextPageCursor"`
	List           [][]string `json:"list"`
}

// KlineTick is one element of a kline stream data frame. Prices arrive as
// strings; Start/End are milliseconds since epoch.
type KlineTick struct {
	Start     int64  `json:"start"`
	End       int64  `json:"end"`
	Interval  string `json:"interval"`
	Open      string `json:"open"`
	Close     string `json:"close"`
	High      string `json:"high"`
	Low       string `json:"low"`
	Volume    string `json:"volume"`
	Turnover  string `json:"turnover"`
	Confirm   bool   `json:"confirm"`
	Timestamp int64  `json:"timestamp"`
}

// KlineMessage represents a WebSocket data frame containing kline entries.
type KlineMessage struct {
	Topic string      `json:"topic"` // e.g., "kline.1.BTCUSDT"
	Data  []KlineTick `json:"data"`
	Ts    int64       `json:"ts"`
	Type  string      `json:"type"` // "snapshot" or "delta"
}
