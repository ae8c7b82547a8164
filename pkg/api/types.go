package api

// API response types for REST endpoints and WebSocket messages

// ==============================
// REST Response Types
// ==============================

// MarketInfo is a market's config plus live counters.
type MarketInfo struct {
	Name                   string `json:"name"` // e.g., "HYPL-USDC"
	ID                     string `json:"id"`
	Authority              string `json:"authority"`
	Vault                  string `json:"vault"`
	BaseAsset              string `json:"baseAsset"`
	QuoteAsset             string `json:"quoteAsset"`
	BaseLotSize            uint64 `json:"baseLotSize"`
	MinBaseAmount          uint64 `json:"minBaseAmount"`
	MinQuoteAmount         uint64 `json:"minQuoteAmount"`
	ConsumeEventsAuthority string `json:"consumeEventsAuthority"`
	TotalOrders            uint64 `json:"totalOrders"`

	BidCount      uint64 `json:"bidCount,omitempty"`
	AskCount      uint64 `json:"askCount,omitempty"`
	PendingEvents uint64 `json:"pendingEvents,omitempty"`
	TotalEvents   uint64 `json:"totalEvents,omitempty"`
}

// BookSnapshot is both sides of a market, best order first.
type BookSnapshot struct {
	Market    string      `json:"market"`
	Bids      []BookOrder `json:"bids"`
	Asks      []BookOrder `json:"asks"`
	Height    uint64      `json:"height"`
	Timestamp int64       `json:"timestamp"` // Unix milliseconds
}

// BookOrder is one resting order. Price is QuoteAmount/BaseAmount rendered
// as a decimal string for display only.
type BookOrder struct {
	OrderID     uint64 `json:"orderId"`
	Owner       string `json:"owner"`
	BaseAmount  uint64 `json:"baseAmount"`
	QuoteAmount uint64 `json:"quoteAmount"`
	Price       string `json:"price"`
}

// EventInfo is one produced event.
type EventInfo struct {
	ID          uint64 `json:"id"`
	OrderID     uint64 `json:"orderId"`
	Kind        string `json:"kind"` // "fill" or "out"
	Side        string `json:"side"` // maker side: "bid" or "ask"
	Maker       string `json:"maker"`
	BaseAmount  uint64 `json:"baseAmount"`
	QuoteAmount uint64 `json:"quoteAmount"`
	Price       string `json:"price"`
}

// LedgerInfo is a participant's unsettled balances in one market.
type LedgerInfo struct {
	Market      string `json:"market"`
	Owner       string `json:"owner"`
	Location    string `json:"location"`
	BaseAmount  uint64 `json:"baseAmount"`
	QuoteAmount uint64 `json:"quoteAmount"`
	Nonce       uint64 `json:"nonce"` // last applied nonce of Owner
}

// ChainStatus is the node's batch progress.
type ChainStatus struct {
	Height      uint64 `json:"height"`
	StateHash   string `json:"stateHash"`
	MempoolSize int    `json:"mempoolSize"`
	Markets     int    `json:"markets"`
}

// SubmitTxResponse is the response to POST /api/v1/tx.
type SubmitTxResponse struct {
	Status    string `json:"status"` // "queued"
	RequestID string `json:"requestId"`
	Bucket    string `json:"bucket"` // mempool bucket the tx landed in
}

// ErrorResponse is returned for all errors
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// ==============================
// WebSocket Message Types
// ==============================

// WSSubscribeRequest is sent by client to subscribe to channels
type WSSubscribeRequest struct {
	Op       string   `json:"op"`       // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"` // e.g., ["book:HYPL-USDC", "events:HYPL-USDC"]
}

// BookUpdate is broadcast on book:{market} after each batch.
type BookUpdate struct {
	Type string `json:"type"` // "book"
	BookSnapshot
}

// EventsUpdate is broadcast on events:{market} when a tx produces events.
type EventsUpdate struct {
	Type   string      `json:"type"` // "events"
	Market string      `json:"market"`
	Events []EventInfo `json:"events"`
}
