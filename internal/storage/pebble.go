package storage

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/bytedance/sonic"
	"github.com/cockroachdb/pebble"
	"github.com/yanun0323/errors"

	"fatfinger/internal/model"
)

// keys: order/<id>, trade/<unix-nano>/<seq>/<order-id>, vol/<unix-nano>/<symbol>
const (
	prefixOrder = "order/"
	prefixTrade = "trade/"
	prefixVol   = "vol/"
)

// Pebble journals records into an embedded key-value store. Orders are kept
// at their latest state; trades and volatility readings are appended.
type Pebble struct {
	db  *pebble.DB
	seq atomic.Uint64
}

// OpenPebble opens or creates a journal at path.
func OpenPebble(path string) (*Pebble, error) {
	db, err := pebble.Open(path, &pebble.Options{})
	if err != nil {
		return nil, errors.Wrapf(err, "open pebble journal %s", path)
	}
	return &Pebble{db: db}, nil
}

func (p *Pebble) SaveOrder(_ context.Context, o model.Order) error {
	return p.put(orderKey(o.ID), o)
}

func (p *Pebble) SaveTrade(_ context.Context, t model.Trade) error {
	key := fmt.Sprintf("%s%020d/%010d/%s", prefixTrade, t.Timestamp.UnixNano(), p.seq.Add(1), t.OrderID)
	return p.put([]byte(key), t)
}

func (p *Pebble) SaveVolatility(_ context.Context, c model.Candidate) error {
	key := fmt.Sprintf("%s%020d/%s", prefixVol, c.Timestamp.UnixNano(), c.Symbol)
	return p.put([]byte(key), c)
}

func (p *Pebble) Close() error {
	return p.db.Close()
}

// Order returns the journaled state of an order.
func (p *Pebble) Order(id string) (model.Order, bool, error) {
	val, closer, err := p.db.Get(orderKey(id))
	if err == pebble.ErrNotFound {
		return model.Order{}, false, nil
	}
	if err != nil {
		return model.Order{}, false, errors.Wrap(err, "get order")
	}
	defer closer.Close()

	var o model.Order
	if err := sonic.ConfigFastest.Unmarshal(val, &o); err != nil {
		return model.Order{}, false, errors.Wrap(err, "decode order")
	}
	return o, true, nil
}

// Orders returns every journaled order, ordered by id.
func (p *Pebble) Orders() ([]model.Order, error) {
	return scan[model.Order](p.db, prefixOrder)
}

// Trades returns the journaled trades in booking order.
func (p *Pebble) Trades() ([]model.Trade, error) {
	return scan[model.Trade](p.db, prefixTrade)
}

// Volatility returns the journaled scan readings in time order.
func (p *Pebble) Volatility() ([]model.Candidate, error) {
	return scan[model.Candidate](p.db, prefixVol)
}

func (p *Pebble) put(key []byte, v any) error {
	data, err := sonic.ConfigFastest.Marshal(v)
	if err != nil {
		return errors.Wrapf(err, "encode %s", key)
	}
	if err := p.db.Set(key, data, pebble.Sync); err != nil {
		return errors.Wrapf(err, "set %s", key)
	}
	return nil
}

func scan[T any](db *pebble.DB, prefix string) ([]T, error) {
	iter, err := db.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: keyUpperBound([]byte(prefix)),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "iterate %s", prefix)
	}
	defer iter.Close()

	var out []T
	for iter.First(); iter.Valid(); iter.Next() {
		var v T
		if err := sonic.ConfigFastest.Unmarshal(iter.Value(), &v); err != nil {
			return nil, errors.Wrapf(err, "decode %s", iter.Key())
		}
		out = append(out, v)
	}
	return out, iter.Error()
}

func orderKey(id string) []byte {
	return []byte(prefixOrder + id)
}

func keyUpperBound(prefix []byte) []byte {
	end := make([]byte, len(prefix))
	copy(end, prefix)
	for i := len(end) - 1; i >= 0; i-- {
		end[i]++
		if end[i] != 0 {
			return end[:i+1]
		}
	}
	return nil
}
