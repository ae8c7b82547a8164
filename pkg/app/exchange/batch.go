package exchange

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"hash"
	"sort"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

// BatchResult summarizes one processed batch.
type BatchResult struct {
	Height    uint64
	Applied   int
	Rejected  int
	Consumed  int
	StateHash [32]byte
}

// Run processes a batch every BatchInterval until ctx is done.
func (a *App) Run(ctx context.Context) {
	a.logger.Infow("batch_loop_started", "interval", a.opts.BatchInterval.String())
	for {
		select {
		case <-ctx.Done():
			a.logger.Infow("batch_loop_stopped", "height", a.Height())
			return
		case <-a.clock.After(a.opts.BatchInterval):
			a.ProcessBatch()
		}
	}
}

// ProcessBatch applies pending transactions in mempool order, then lets the
// node drain each market's event log when AutoConsume is set.
func (a *App) ProcessBatch() BatchResult {
	start := a.clock.Now()
	txs := a.mempool.SelectBatch(a.opts.MaxBatchBytes)

	var res BatchResult
	for _, raw := range txs {
		r, err := a.ApplyTx(raw)
		if err != nil {
			res.Rejected++
			a.logger.Debugw("tx_rejected", "err", err)
			continue
		}
		res.Applied++
		a.logger.Debugw("tx_applied",
			"type", r.Type,
			"market", r.Market,
			"signer", r.Signer.Hex(),
			"nonce", r.Nonce,
			"events", len(r.Events),
		)
	}

	if a.opts.AutoConsume > 0 {
		for _, cfg := range a.registry.List() {
			n, err := a.crank(cfg.Name, a.opts.AutoConsume)
			if err != nil {
				a.logger.Warnw("auto_consume_failed", "market", cfg.Name, "err", err)
				continue
			}
			res.Consumed += n
		}
	}

	a.mu.Lock()
	a.height++
	res.Height = a.height
	a.mu.Unlock()
	res.StateHash = a.StateHash()

	if len(txs) > 0 || res.Consumed > 0 {
		a.logger.Infow("batch_committed",
			"height", res.Height,
			"txs", len(txs),
			"applied", res.Applied,
			"rejected", res.Rejected,
			"consumed", res.Consumed,
			"pending", a.mempool.Len(),
			"state_hash", common.Hash(res.StateHash).Hex(),
			"duration_ms", a.clock.Now().Sub(start).Milliseconds(),
		)
	}
	if a.OnBatch != nil {
		a.OnBatch(res)
	}
	return res
}

// StateHash is a sha256 digest of every market (config counters, both book
// sides, pending events), every ledger entry and every custody balance.
// Two nodes that applied the same transactions report the same hash.
func (a *App) StateHash() [32]byte {
	a.mu.RLock()
	defer a.mu.RUnlock()

	h := sha256.New()
	names := make([]string, 0, len(a.markets))
	for name := range a.markets {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		m := a.markets[name]
		h.Write([]byte(name))
		h.Write(m.Config.ID.Bytes())
		writeUint64(h, m.Config.TotalOrders)
		for _, book := range []*orderbook.BookSide{&m.Bids, &m.Asks} {
			writeUint64(h, book.OrderCount)
			for _, o := range book.Live() {
				writeUint64(h, o.OrderID)
				writeUint64(h, o.BaseAmount)
				writeUint64(h, o.QuoteAmount)
				h.Write(o.Owner.Bytes())
			}
		}
		writeUint64(h, m.Events.TotalEvents)
		for _, ev := range m.Events.Pending() {
			writeEvent(h, ev)
		}
		for _, e := range a.ledgers[name].Entries() {
			h.Write(e.Location.Bytes())
			writeUint64(h, e.BaseAmount)
			writeUint64(h, e.QuoteAmount)
		}
	}
	for _, b := range a.vault.Balances() {
		h.Write(b.Asset.Bytes())
		h.Write(b.Owner.Bytes())
		writeUint64(h, b.Amount)
	}

	var out [32]byte
	copy(out[:], h.Sum(nil))
	return out
}

func writeUint64(h hash.Hash, v uint64) {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	h.Write(buf[:])
}

func writeEvent(h hash.Hash, ev events.Event) {
	writeUint64(h, ev.ID)
	writeUint64(h, ev.OrderID)
	writeUint64(h, ev.BaseAmount)
	writeUint64(h, ev.QuoteAmount)
	h.Write(ev.Maker.Bytes())
	h.Write([]byte{byte(ev.Side), byte(ev.Kind)})
}
