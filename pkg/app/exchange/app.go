// Package exchange runs the matching engine as a node: it owns every
// market's state, applies signed transactions one at a time and persists
// each result atomically.
package exchange

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/mempool"
	"github.com/uhyunpark/hyperclob/pkg/app/core/transaction"
	"github.com/uhyunpark/hyperclob/pkg/crypto"
	"github.com/uhyunpark/hyperclob/pkg/storage"
	"github.com/uhyunpark/hyperclob/pkg/util"
)

var (
	ErrBadNonce      = errors.New("bad nonce")
	ErrUnknownMarket = errors.New("unknown market")
)

// Options tune the node runtime. Zero values fall back to defaults.
type Options struct {
	Domain        crypto.EIP712Domain
	BatchInterval time.Duration
	MaxBatchBytes int64
	MaxPending    int
	// AutoConsume is the number of events the node itself drains from each
	// market after every batch. 0 disables it.
	AutoConsume int

	Clock   util.Clock
	Journal storage.Journal
}

func DefaultOptions() Options {
	return Options{
		Domain:        crypto.DefaultDomain(),
		BatchInterval: 200 * time.Millisecond,
		MaxBatchBytes: 1 << 20,
		MaxPending:    100_000,
		AutoConsume:   clob.MaxEventsToConsume,
	}
}

// App is the exchange node state. All writes go through one lock, so every
// transaction sees the effects of the previous one and nothing else.
type App struct {
	mu sync.RWMutex

	registry *market.Registry
	markets  map[string]*clob.Market
	ledgers  map[string]*account.Ledger
	vault    *Vault
	nonces   map[common.Address]uint64
	height   uint64

	store    *storage.PebbleStore
	journal  storage.Journal
	mempool  *mempool.Mempool
	verifier *transaction.Verifier
	auth     clob.Authorizer
	resolver clob.AddressResolver
	logger   *zap.SugaredLogger
	clock    util.Clock
	opts     Options

	// OnEvents is called after commit with the events a transaction produced.
	OnEvents func(market string, evs []events.Event)
	// OnBatch is called after every processed batch.
	OnBatch func(BatchResult)
}

// NewApp creates the node and restores markets, ledger entries, custody
// balances and nonces from store.
func NewApp(opts Options, store *storage.PebbleStore, logger *zap.SugaredLogger) (*App, error) {
	def := DefaultOptions()
	if opts.Domain.Name == "" {
		opts.Domain = def.Domain
	}
	if opts.BatchInterval <= 0 {
		opts.BatchInterval = def.BatchInterval
	}
	if opts.MaxBatchBytes <= 0 {
		opts.MaxBatchBytes = def.MaxBatchBytes
	}
	if opts.MaxPending <= 0 {
		opts.MaxPending = def.MaxPending
	}
	if opts.AutoConsume < 0 || opts.AutoConsume > clob.MaxEventsToConsume {
		opts.AutoConsume = clob.MaxEventsToConsume
	}
	if opts.Clock == nil {
		opts.Clock = util.RealClock{}
	}
	if opts.Journal == nil {
		opts.Journal = storage.NewNopJournal()
	}

	a := &App{
		registry: market.NewRegistry(),
		markets:  make(map[string]*clob.Market),
		ledgers:  make(map[string]*account.Ledger),
		vault:    NewVault(),
		nonces:   make(map[common.Address]uint64),
		store:    store,
		journal:  opts.Journal,
		mempool:  mempool.NewMempool(opts.MaxPending),
		verifier: transaction.NewVerifier(opts.Domain),
		auth:     clob.OwnerAuthorizer{},
		resolver: account.KeccakResolver{},
		logger:   logger,
		clock:    opts.Clock,
		opts:     opts,
	}
	if err := a.restore(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *App) restore() error {
	ms, err := a.store.LoadMarkets()
	if err != nil {
		return fmt.Errorf("load markets: %w", err)
	}
	for _, m := range ms {
		if err := a.registry.Register(m.Config); err != nil {
			return err
		}
		entries, err := a.store.LoadEntries(m.ID())
		if err != nil {
			return fmt.Errorf("load ledger of %s: %w", m.Config.Name, err)
		}
		l := account.NewLedger()
		for _, e := range entries {
			l.Load(e)
		}
		a.markets[m.Config.Name] = m
		a.ledgers[m.Config.Name] = l
	}

	balances, err := a.store.LoadBalances()
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	a.vault.Load(balances)

	if a.nonces, err = a.store.LoadNonces(); err != nil {
		return fmt.Errorf("load nonces: %w", err)
	}

	a.logger.Infow("state_restored",
		"markets", len(ms),
		"balances", len(balances),
		"signers", len(a.nonces),
	)
	return nil
}

// CreateMarket registers and persists a new market.
func (a *App) CreateMarket(p market.Params) (market.Config, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.registry.Exists(p.Name) {
		return market.Config{}, fmt.Errorf("%w: %s", market.ErrMarketExists, p.Name)
	}
	m, err := clob.CreateMarket(p)
	if err != nil {
		return market.Config{}, err
	}
	if err := a.store.SaveMarket(m); err != nil {
		return market.Config{}, fmt.Errorf("persist market %s: %w", p.Name, err)
	}
	if err := a.registry.Register(m.Config); err != nil {
		return market.Config{}, err
	}
	a.markets[p.Name] = m
	a.ledgers[p.Name] = account.NewLedger()

	a.logger.Infow("market_created",
		"name", m.Config.Name,
		"id", m.Config.ID.Hex(),
		"base_lot_size", m.Config.BaseLotSize,
		"min_base", m.Config.MinBaseAmount,
		"min_quote", m.Config.MinQuoteAmount,
	)
	return m.Config, nil
}

// Deposit credits owner with amount of asset. It is how a devnet funds
// participants; there is no withdrawal besides settlement.
func (a *App) Deposit(owner, asset common.Address, amount uint64) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	staged := a.vault.stage()
	if err := staged.credit(asset, owner, amount); err != nil {
		return err
	}
	b := a.store.NewBatch()
	defer b.Close()
	for _, bal := range staged.balances() {
		b.PutBalance(bal.Asset, bal.Owner, bal.Amount)
	}
	if err := b.Commit(); err != nil {
		return err
	}
	a.vault.apply(staged)
	a.record(fmt.Sprintf("deposit %s %s %d", owner.Hex(), asset.Hex(), amount))
	return nil
}

// record appends line to the audit journal. State is already committed, so
// a failed write is logged rather than returned.
func (a *App) record(line string) {
	if err := a.journal.Append(line); err != nil {
		a.logger.Errorw("journal_append_failed", "line", line, "err", err)
	}
}

// PushTx checks that raw is a well-formed transaction and queues it for the
// next batch. Signatures are verified when the batch is applied.
func (a *App) PushTx(raw []byte) (mempool.TxType, error) {
	if _, err := transaction.ParseTransaction(raw); err != nil {
		return 0, err
	}
	return a.mempool.PushRaw(raw)
}

func (a *App) Pending() int { return a.mempool.Len() }
