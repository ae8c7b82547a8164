package exchange

import (
	"context"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// FeederConfig controls synthetic load generation on a devnet.
type FeederConfig struct {
	BatchSize   int           // txs generated per tick
	Interval    time.Duration // tick period
	NumAccounts int           // simulated traders
	Markets     []string      // markets to trade; empty means all
	QuotePerLot uint64        // mid price, in quote units per lot
	MaxLots     int
	Funding     uint64 // deposited per trader and asset
}

func DefaultFeederConfig() FeederConfig {
	return FeederConfig{
		BatchSize:   10,
		Interval:    100 * time.Millisecond,
		NumAccounts: 20,
		QuotePerLot: 2_000,
		MaxLots:     20,
		Funding:     1_000_000_000_000,
	}
}

// staleTicks is how long a trader waits for an in-flight tx before it
// assumes the tx was rejected and reuses the nonce.
const staleTicks = 20

type trader struct {
	signer *crypto.Signer
	sent   uint64 // last nonce handed to the mempool
	sentAt int    // tick of that hand-off
	ready  map[string]bool
}

// TxFeeder produces signed place, cancel and settle transactions from a
// fixed set of funded traders.
type TxFeeder struct {
	app     *App
	cfg     FeederConfig
	domain  crypto.EIP712Domain
	traders []*trader
	rng     *rand.Rand
	tick    int
}

// NewTxFeeder creates the traders, funds them in every traded market's
// assets and returns the feeder.
func NewTxFeeder(app *App, cfg FeederConfig) (*TxFeeder, error) {
	def := DefaultFeederConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxLots <= 0 {
		cfg.MaxLots = def.MaxLots
	}
	f := &TxFeeder{
		app:    app,
		cfg:    cfg,
		domain: app.opts.Domain,
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for i := 0; i < cfg.NumAccounts; i++ {
		s, err := crypto.GenerateKey()
		if err != nil {
			return nil, err
		}
		f.traders = append(f.traders, &trader{signer: s, ready: make(map[string]bool)})
	}

	for _, m := range f.markets() {
		for _, t := range f.traders {
			if err := app.Deposit(t.signer.Address(), m.BaseAsset, cfg.Funding); err != nil {
				return nil, err
			}
			if err := app.Deposit(t.signer.Address(), m.QuoteAsset, cfg.Funding); err != nil {
				return nil, err
			}
		}
	}
	return f, nil
}

func (f *TxFeeder) markets() []market.Config {
	all := f.app.Markets()
	if len(f.cfg.Markets) == 0 {
		return all
	}
	want := make(map[string]bool, len(f.cfg.Markets))
	for _, n := range f.cfg.Markets {
		want[n] = true
	}
	var out []market.Config
	for _, m := range all {
		if want[m.Name] {
			out = append(out, m)
		}
	}
	return out
}

// nextNonce returns the nonce t should use now, or false while an earlier
// tx of t is still in flight.
func (f *TxFeeder) nextNonce(t *trader) (uint64, bool) {
	applied := f.app.Nonce(t.signer.Address())
	if t.sent > applied && f.tick-t.sentAt < staleTicks {
		return 0, false
	}
	t.sent, t.sentAt = applied+1, f.tick
	return t.sent, true
}

// Generate returns up to n signed transactions. Each trader has at most one
// tx in flight, so a rejection never strands later nonces.
func (f *TxFeeder) Generate(n int) [][]byte {
	f.tick++
	ms := f.markets()
	if len(ms) == 0 || len(f.traders) == 0 {
		return nil
	}

	var out [][]byte
	for _, i := range f.rng.Perm(len(f.traders)) {
		if len(out) >= n {
			break
		}
		t := f.traders[i]
		nonce, ok := f.nextNonce(t)
		if !ok {
			continue
		}
		cfg := ms[f.rng.Intn(len(ms))]
		tx, err := transaction.Sign(f.domain, t.signer, f.message(t, cfg, nonce))
		if err != nil {
			continue
		}
		raw, err := tx.Serialize()
		if err != nil {
			continue
		}
		out = append(out, raw)
	}
	return out
}

func (f *TxFeeder) message(t *trader, cfg market.Config, nonce uint64) crypto.TypedMessage {
	owner := t.signer.Address()
	if !t.ready[cfg.Name] {
		t.ready[cfg.Name] = true
		return &crypto.CreateLedgerEntryEIP712{Market: cfg.Name, Nonce: nonce, Owner: owner}
	}

	r := f.rng.Intn(100)
	if r < 10 {
		if side, id, ok := f.ownOrder(cfg.Name, owner); ok {
			return &crypto.CancelOrderEIP712{Market: cfg.Name, Side: uint8(side), OrderID: id, Nonce: nonce, Owner: owner}
		}
	}
	if r >= 95 {
		return &crypto.SettleEIP712{Market: cfg.Name, Participant: owner, Nonce: nonce, Caller: owner}
	}

	// price within 5% of mid, biased so bids and asks overlap
	side := orderbook.Side(f.rng.Intn(2))
	lots := uint64(f.rng.Intn(f.cfg.MaxLots) + 1)
	for lots*cfg.BaseLotSize < cfg.MinBaseAmount {
		lots++
	}
	spread := int64(f.cfg.QuotePerLot / 20)
	perLot := int64(f.cfg.QuotePerLot)
	if spread > 0 {
		perLot += f.rng.Int63n(2*spread+1) - spread
	}
	if perLot < 1 {
		perLot = 1
	}
	quote := lots * uint64(perLot)
	if quote < cfg.MinQuoteAmount {
		quote = cfg.MinQuoteAmount
	}
	return &crypto.PlaceOrderEIP712{
		Market:      cfg.Name,
		Side:        uint8(side),
		BaseLots:    lots,
		QuoteAmount: quote,
		IOC:         f.rng.Intn(5) == 0,
		Nonce:       nonce,
		Owner:       owner,
	}
}

// ownOrder picks one of owner's resting orders in a market.
func (f *TxFeeder) ownOrder(name string, owner common.Address) (orderbook.Side, uint64, bool) {
	m, err := f.app.Market(name)
	if err != nil {
		return 0, 0, false
	}
	for _, book := range []*orderbook.BookSide{&m.Bids, &m.Asks} {
		for _, o := range book.Live() {
			if o.Owner == owner {
				return book.Side, o.OrderID, true
			}
		}
	}
	return 0, 0, false
}

// Start feeds generated transactions into the app's mempool until ctx is
// done or the returned cancel function is called.
func (f *TxFeeder) Start(ctx context.Context) context.CancelFunc {
	feedCtx, cancel := context.WithCancel(ctx)

	go func() {
		ticker := time.NewTicker(f.cfg.Interval)
		defer ticker.Stop()

		start := time.Now()
		total, dropped := 0, 0
		f.app.logger.Infow("txfeeder_started",
			"batch", f.cfg.BatchSize,
			"interval", f.cfg.Interval.String(),
			"accounts", len(f.traders),
		)

		for {
			select {
			case <-feedCtx.Done():
				elapsed := time.Since(start)
				f.app.logger.Infow("txfeeder_stopped",
					"total", total,
					"dropped", dropped,
					"tx_per_sec", float64(total)/elapsed.Seconds(),
				)
				return
			case <-ticker.C:
				for _, raw := range f.Generate(f.cfg.BatchSize) {
					if _, err := f.app.PushTx(raw); err != nil {
						dropped++
						continue
					}
					total++
				}
			}
		}
	}()

	return cancel
}
