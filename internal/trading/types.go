package trading

import "time"

// OrderType distinguishes market from limit orders.
type OrderType string

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

// envelope is the standard response wrapper of the trading API.
type envelope struct {
	Message string `json:"message"`
}

// AuthResult is the payload of a successful login or registration.
type AuthResult struct {
	Token     string    `json:"token"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// OrderRequest is the body of a buy or sell call. LimitPrice is only sent
// for LIMIT orders.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Price      float64   `json:"price"`
	Quantity   float64   `json:"quantity"`
	OrderType  OrderType `json:"orderType"`
	LimitPrice *float64  `json:"limitPrice,omitempty"`
}

// TradeResult describes an executed or accepted order.
type TradeResult struct {
	OrderID   string    `json:"orderId"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	OrderType OrderType `json:"orderType"`
	Price     float64   `json:"price"`
	Quantity  float64   `json:"quantity"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"createdAt"`
}

// Order is one resting or historical order.
type Order struct {
	ID         string    `json:"id"`
	Symbol     string    `json:"symbol"`
	Side       string    `json:"side"`
	OrderType  OrderType `json:"orderType"`
	Price      float64   `json:"price"`
	LimitPrice float64   `json:"limitPrice"`
	Quantity   float64   `json:"quantity"`
	Status     string    `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Asset is one holding in the wallet.
type Asset struct {
	Symbol   string  `json:"symbol"`
	Quantity float64 `json:"quantity"`
	AvgPrice float64 `json:"avgPrice"`
}

// Portfolio is the wallet state returned by the trading API.
type Portfolio struct {
	Balance float64 `json:"balance"`
	Assets  []Asset `json:"assets"`
}

// SymbolInfo is one entry of the tradable-symbol list.
type SymbolInfo struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Icon   string `json:"icon"`
}
