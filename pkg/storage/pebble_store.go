package storage

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/hyperclob/pkg/app/core/account"
	"github.com/uhyunpark/hyperclob/pkg/app/core/clob"
	"github.com/uhyunpark/hyperclob/pkg/app/core/events"
	"github.com/uhyunpark/hyperclob/pkg/app/core/market"
	"github.com/uhyunpark/hyperclob/pkg/app/core/orderbook"
)

type PebbleStore struct {
	db *pebble.DB
}

func NewPebbleStore(path string) (*PebbleStore, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, err
	}
	return &PebbleStore{db: db}, nil
}
func (s *PebbleStore) Close() error { return s.db.Close() }

// Balance is one persisted custody balance.
type Balance struct {
	Asset  common.Address
	Owner  common.Address
	Amount uint64
}

// Batch collects writes that become visible together on Commit.
// The first failed write is remembered and returned by Commit.
type Batch struct {
	b   *pebble.Batch
	err error
}

// NewBatch starts an atomic write batch. Callers must Close it.
func (s *PebbleStore) NewBatch() *Batch {
	return &Batch{b: s.db.NewBatch()}
}

func (b *Batch) set(key, val []byte) {
	if b.err != nil {
		return
	}
	if err := b.b.Set(key, val, nil); err != nil {
		b.err = err
	}
}

func (b *Batch) setJSON(key []byte, v any) {
	if b.err != nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		b.err = fmt.Errorf("failed to marshal %s: %w", key, err)
		return
	}
	b.set(key, data)
}

// PutMarket writes the config, both book sides and the event log of m.
func (b *Batch) PutMarket(m *clob.Market) {
	name := m.Config.Name
	b.setJSON(marketKey(name), m.Config)
	b.set(bidsKey(name), encodeBookSide(&m.Bids))
	b.set(asksKey(name), encodeBookSide(&m.Asks))
	b.set(eventsKey(name), encodeEventLog(&m.Events))
}

func (b *Batch) PutEntry(e *account.Entry) {
	b.setJSON(entryKey(e.Market, e.Location), e)
}

func (b *Batch) PutBalance(asset, owner common.Address, amount uint64) {
	b.set(vaultKey(asset, owner), encodeUint64(amount))
}

func (b *Batch) PutNonce(addr common.Address, nonce uint64) {
	b.set(nonceKey(addr), encodeUint64(nonce))
}

// PutEvent appends ev to the market's event history.
func (b *Batch) PutEvent(name string, ev events.Event) {
	b.setJSON(historyKey(name, ev.ID), ev)
}

// Commit durably applies every write in the batch.
func (b *Batch) Commit() error {
	if b.err != nil {
		return b.err
	}
	if err := b.b.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

func (b *Batch) Close() error { return b.b.Close() }

// SaveMarket persists m on its own.
func (s *PebbleStore) SaveMarket(m *clob.Market) error {
	b := s.NewBatch()
	defer b.Close()
	b.PutMarket(m)
	return b.Commit()
}

// get calls fn with the value stored at key. Returns false if the key is absent.
func (s *PebbleStore) get(key []byte, fn func([]byte) error) (bool, error) {
	data, closer, err := s.db.Get(key)
	if err == pebble.ErrNotFound {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to get %s: %w", key, err)
	}
	defer closer.Close()
	return true, fn(data)
}

func (s *PebbleStore) scan(prefix []byte, fn func(key, val []byte) error) error {
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		if err := fn(iter.Key(), iter.Value()); err != nil {
			return err
		}
	}
	return iter.Error()
}

// LoadMarket loads a market by name.
// Returns nil if the market doesn't exist
func (s *PebbleStore) LoadMarket(name string) (*clob.Market, error) {
	m := &clob.Market{}
	found, err := s.get(marketKey(name), func(data []byte) error {
		return json.Unmarshal(data, &m.Config)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal market %s: %w", name, err)
	}
	if !found {
		return nil, nil
	}

	parts := []struct {
		key    []byte
		decode func([]byte) error
	}{
		{bidsKey(name), func(d []byte) error { return decodeBookSide(d, orderbook.Bid, &m.Bids) }},
		{asksKey(name), func(d []byte) error { return decodeBookSide(d, orderbook.Ask, &m.Asks) }},
		{eventsKey(name), func(d []byte) error { return decodeEventLog(d, &m.Events) }},
	}
	for _, p := range parts {
		found, err := s.get(p.key, p.decode)
		if err != nil {
			return nil, fmt.Errorf("market %s: %w", name, err)
		}
		if !found {
			return nil, fmt.Errorf("%w: market %s is missing %s", ErrCorruptRecord, name, p.key)
		}
	}
	if m.Bids.Market != m.Config.ID || m.Asks.Market != m.Config.ID || m.Events.Market != m.Config.ID {
		return nil, fmt.Errorf("%w: market %s has records of another market", ErrCorruptRecord, name)
	}
	return m, nil
}

// LoadMarkets loads every persisted market, ordered by name.
func (s *PebbleStore) LoadMarkets() ([]*clob.Market, error) {
	var names []string
	err := s.scan([]byte(prefixMarket), func(key, _ []byte) error {
		names = append(names, strings.TrimPrefix(string(key), prefixMarket))
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]*clob.Market, 0, len(names))
	for _, name := range names {
		m, err := s.LoadMarket(name)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, nil
}

// LoadConfigs loads only the market configs.
func (s *PebbleStore) LoadConfigs() ([]market.Config, error) {
	var out []market.Config
	err := s.scan([]byte(prefixMarket), func(key, val []byte) error {
		var c market.Config
		if err := json.Unmarshal(val, &c); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		out = append(out, c)
		return nil
	})
	return out, err
}

// LoadEntries loads every ledger entry of a market.
func (s *PebbleStore) LoadEntries(marketID common.Address) ([]*account.Entry, error) {
	var out []*account.Entry
	err := s.scan(entryPrefix(marketID), func(key, val []byte) error {
		var e account.Entry
		if err := json.Unmarshal(val, &e); err != nil {
			return fmt.Errorf("failed to unmarshal %s: %w", key, err)
		}
		out = append(out, &e)
		return nil
	})
	return out, err
}

// LoadBalances loads every custody balance.
func (s *PebbleStore) LoadBalances() ([]Balance, error) {
	var out []Balance
	err := s.scan([]byte(prefixVault), func(key, val []byte) error {
		asset, owner, err := parseAddressPair(strings.TrimPrefix(string(key), prefixVault))
		if err != nil {
			return err
		}
		amount, err := decodeUint64(val)
		if err != nil {
			return err
		}
		out = append(out, Balance{Asset: asset, Owner: owner, Amount: amount})
		return nil
	})
	return out, err
}

// LoadNonces loads the last applied nonce of every signer.
func (s *PebbleStore) LoadNonces() (map[common.Address]uint64, error) {
	out := make(map[common.Address]uint64)
	err := s.scan([]byte(prefixNonce), func(key, val []byte) error {
		hex := strings.TrimPrefix(string(key), prefixNonce)
		if !common.IsHexAddress(hex) {
			return fmt.Errorf("%w: key %q", ErrCorruptRecord, key)
		}
		n, err := decodeUint64(val)
		if err != nil {
			return err
		}
		out[common.HexToAddress(hex)] = n
		return nil
	})
	return out, err
}

// RecentEvents loads the most recent limit events produced by a market,
// newest first.
func (s *PebbleStore) RecentEvents(name string, limit int) ([]events.Event, error) {
	prefix := historyPrefix(name)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	var out []events.Event
	for iter.Last(); iter.Valid() && len(out) < limit; iter.Prev() {
		var ev events.Event
		if err := json.Unmarshal(iter.Value(), &ev); err != nil {
			continue
		}
		out = append(out, ev)
	}
	return out, nil
}
