package mempool

import (
	"encoding/json"
	"errors"
	"sync"
)

var ErrMempoolFull = errors.New("mempool full")

// TxType classifies transactions into ordering buckets.
type TxType int

const (
	TxNonOrder TxType = iota
	TxCancel
	TxOrderGTC
	TxOrderIOC
)

func (t TxType) String() string {
	switch t {
	case TxNonOrder:
		return "non_order"
	case TxCancel:
		return "cancel"
	case TxOrderGTC:
		return "order_gtc"
	case TxOrderIOC:
		return "order_ioc"
	default:
		return "unknown"
	}
}

// ClassifyRaw classifies a raw transaction by peeking at its JSON envelope:
//
//	{"type": "place_order", "place": {"ioc": true}}  -> TxOrderIOC
//	{"type": "place_order", ...}                      -> TxOrderGTC
//	{"type": "cancel_order", ...}                     -> TxCancel
//	consume_events, settle, create_ledger_entry       -> TxNonOrder
//
// Anything unrecognised lands in the order bucket; the verifier rejects it
// when the batch is applied.
func ClassifyRaw(b []byte) TxType {
	if len(b) == 0 || b[0] != '{' {
		return TxOrderGTC
	}

	var envelope struct {
		Type  string `json:"type"`
		Place *struct {
			IOC bool `json:"ioc"`
		} `json:"place"`
	}
	if err := json.Unmarshal(b, &envelope); err != nil {
		return TxOrderGTC
	}

	switch envelope.Type {
	case "cancel_order":
		return TxCancel
	case "consume_events", "settle", "create_ledger_entry":
		return TxNonOrder
	case "place_order":
		if envelope.Place != nil && envelope.Place.IOC {
			return TxOrderIOC
		}
		return TxOrderGTC
	default:
		return TxOrderGTC
	}
}

// Mempool maintains three queues drained in a fixed order:
// (1) non-order, (2) cancel, (3) orders (GTC/IOC).
// Cancels run before new orders so a maker can always pull quotes ahead of
// incoming takers in the same batch. Within each bucket, FIFO.
type Mempool struct {
	mu         sync.Mutex
	maxPending int
	nonOrder   [][]byte
	cancel     [][]byte
	orders     [][]byte
}

// NewMempool creates a mempool holding at most maxPending txs (0 = unbounded).
func NewMempool(maxPending int) *Mempool {
	return &Mempool{maxPending: maxPending}
}

// PushRaw classifies and enqueues a tx.
func (m *Mempool) PushRaw(b []byte) (TxType, error) {
	kind := ClassifyRaw(b)
	cp := append([]byte(nil), b...)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.maxPending > 0 && m.lenLocked() >= m.maxPending {
		return kind, ErrMempoolFull
	}
	switch kind {
	case TxNonOrder:
		m.nonOrder = append(m.nonOrder, cp)
	case TxCancel:
		m.cancel = append(m.cancel, cp)
	default:
		m.orders = append(m.orders, cp)
	}
	return kind, nil
}

// SelectBatch returns up to maxBytes worth of txs in bucket order,
// removing them from the mempool. maxBytes <= 0 takes everything.
func (m *Mempool) SelectBatch(maxBytes int64) [][]byte {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out [][]byte
	var used int64
	full := false

	pull := func(q *[][]byte) {
		for len(*q) > 0 && !full {
			tx := (*q)[0]
			n := int64(len(tx))
			if maxBytes > 0 && used+n > maxBytes {
				full = true
				return
			}
			out = append(out, tx)
			used += n
			*q = (*q)[1:]
		}
	}

	pull(&m.nonOrder)
	pull(&m.cancel)
	pull(&m.orders)

	return out
}

// Len returns total pending txs.
func (m *Mempool) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lenLocked()
}

func (m *Mempool) lenLocked() int {
	return len(m.nonOrder) + len(m.cancel) + len(m.orders)
}
