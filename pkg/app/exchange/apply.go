package exchange

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
)

// Receipt describes an applied transaction. Exactly one of the result
// fields is set, matching Type.
type Receipt struct {
	Type   transaction.TxType `json:"type"`
	Market string             `json:"market"`
	Signer common.Address     `json:"signer"`
	Nonce  uint64             `json:"nonce"`

	Place   *clob.PlaceResult   `json:"place,omitempty"`
	Cancel  *events.Event       `json:"cancel,omitempty"`
	Consume *clob.ConsumeResult `json:"consume,omitempty"`
	Settle  *clob.SettleResult  `json:"settle,omitempty"`
	Entry   *account.Entry      `json:"entry,omitempty"`

	// Events lists the events the transaction appended to the market's log.
	Events []events.Event `json:"events,omitempty"`
}

// txn is one market operation in progress. It works on copies; nothing is
// visible until commit.
type txn struct {
	name    string
	market  *clob.Market
	ledger  *account.Ledger
	custody *stagedCustody
	engine  *clob.Engine
}

func (a *App) begin(name string) (*txn, error) {
	m, ok := a.markets[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	staged := a.vault.stage()
	return &txn{
		name:    name,
		market:  m.Clone(),
		ledger:  a.ledgers[name].Clone(),
		custody: staged,
		engine:  clob.NewEngine(staged, a.auth, a.resolver),
	}, nil
}

// commit persists t, the signer's nonce (if any) and newEvs in one batch,
// then swaps the in-memory state.
func (a *App) commit(t *txn, signer common.Address, nonce uint64, newEvs []events.Event) error {
	b := a.store.NewBatch()
	defer b.Close()

	b.PutMarket(t.market)
	for _, e := range t.ledger.Dirty() {
		b.PutEntry(e)
	}
	for _, bal := range t.custody.balances() {
		b.PutBalance(bal.Asset, bal.Owner, bal.Amount)
	}
	if nonce > 0 {
		b.PutNonce(signer, nonce)
	}
	for _, ev := range newEvs {
		b.PutEvent(t.name, ev)
	}
	if err := b.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", t.name, err)
	}

	t.ledger.ClearDirty()
	a.markets[t.name] = t.market
	a.ledgers[t.name] = t.ledger
	a.vault.apply(t.custody)
	if nonce > 0 {
		a.nonces[signer] = nonce
	}
	if err := a.registry.Update(t.market.Config); err != nil {
		a.logger.Errorw("registry_update_failed", "market", t.name, "err", err)
	}
	return nil
}

// ApplyTx verifies and applies one raw signed transaction. A rejected
// transaction changes nothing, including the signer's nonce.
func (a *App) ApplyTx(raw []byte) (*Receipt, error) {
	tx, err := transaction.ParseTransaction(raw)
	if err != nil {
		return nil, err
	}
	v, err := a.verifier.Verify(tx)
	if err != nil {
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()

	if want := a.nonces[v.Signer] + 1; v.Nonce != want {
		return nil, fmt.Errorf("%w: %s sent %d, expected %d", ErrBadNonce, v.Signer.Hex(), v.Nonce, want)
	}
	t, err := a.begin(v.Market)
	if err != nil {
		return nil, err
	}

	r := &Receipt{Type: v.Type, Market: v.Market, Signer: v.Signer, Nonce: v.Nonce}
	if err := t.run(v, r); err != nil {
		return nil, err
	}
	if err := a.commit(t, v.Signer, v.Nonce, r.Events); err != nil {
		return nil, err
	}

	a.record(fmt.Sprintf("%s %s %s %d", v.Type, v.Market, v.Signer.Hex(), v.Nonce))
	if len(r.Events) > 0 && a.OnEvents != nil {
		a.OnEvents(v.Market, r.Events)
	}
	return r, nil
}

// run dispatches v to the engine. The signer acts as caller for every kind.
func (t *txn) run(v *transaction.Verified, r *Receipt) error {
	switch msg := v.Message.(type) {
	case *crypto.PlaceOrderEIP712:
		res, err := t.engine.PlaceOrder(t.market, t.ledger, clob.PlaceOrderRequest{
			Owner:       msg.Owner,
			Side:        orderbook.Side(msg.Side),
			BaseLots:    msg.BaseLots,
			QuoteAmount: msg.QuoteAmount,
			IOC:         msg.IOC,
		})
		if err != nil {
			return err
		}
		r.Place, r.Events = &res, res.Events

	case *crypto.CancelOrderEIP712:
		side, err := orderbook.ParseSide(uint64(msg.Side))
		if err != nil {
			return err
		}
		ev, err := t.engine.CancelOrder(t.market, msg.Owner, side, msg.OrderID)
		if err != nil {
			return err
		}
		r.Cancel, r.Events = &ev, []events.Event{ev}

	case *crypto.ConsumeEventsEIP712:
		res, err := t.engine.ConsumeEvents(t.market, t.ledger, msg.Caller, int(msg.Limit))
		if err != nil {
			return err
		}
		r.Consume = &res

	case *crypto.SettleEIP712:
		res, err := t.engine.Settle(t.market, t.ledger, msg.Caller, msg.Participant)
		if err != nil {
			return err
		}
		r.Settle = &res

	case *crypto.CreateLedgerEntryEIP712:
		e := *t.engine.CreateLedgerEntry(t.market, t.ledger, msg.Owner)
		r.Entry = &e

	default:
		return fmt.Errorf("%w: unsupported message %T", transaction.ErrInvalidTransaction, v.Message)
	}
	return nil
}

// crank drains up to limit events from a market on behalf of its consume
// authority. It reports how many events were consumed.
func (a *App) crank(name string, limit int) (int, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	m, ok := a.markets[name]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownMarket, name)
	}
	if m.Events.Unconsumed == 0 {
		return 0, nil
	}

	t, err := a.begin(name)
	if err != nil {
		return 0, err
	}
	res, err := t.engine.ConsumeEvents(t.market, t.ledger, m.Config.ConsumeEventsAuthority, limit)
	if err != nil {
		return 0, err
	}
	if len(res.Consumed) == 0 {
		return 0, nil
	}
	if err := a.commit(t, common.Address{}, 0, nil); err != nil {
		return 0, err
	}
	return len(res.Consumed), nil
}
