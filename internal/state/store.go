// Package state stages settlement reads and writes against Redis and
// commits them atomically.
//
// A Tx remembers the value of every slot it read. Commit WATCHes those keys,
// re-reads them and applies all writes in a single MULTI/EXEC only if none
// changed, so a settlement either lands completely or not at all.
package state

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/redis/go-redis/v9"
)

// ErrConflict means another writer changed a key the transaction read.
var ErrConflict = errors.New("state: concurrent modification")

// Redis key templates
const (
	settingsKey      = "rwp:settings"
	agentKeyPrefix   = "rwp:agent:"
	sponsorKeyPrefix = "rwp:sponsor:"
	poolKeyPrefix    = "rwp:pool:"  // hash: asset id -> amount
	orderKeyPrefix   = "rwp:order:" // processed digest -> settled-at unix seconds
	nativeKeyPrefix  = "ledger:native:"
	assetKeyPrefix   = "ledger:asset:" // hash: asset id -> amount
)

func addrKey(prefix string, a common.Address) string {
	return prefix + strings.ToLower(a.Hex())
}

// Store opens transactions on a Redis client.
type Store struct {
	rdb *redis.Client
}

func NewStore(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

// Begin starts an empty transaction. Nothing touches Redis until the first read.
func (s *Store) Begin() *Tx {
	return &Tx{
		rdb:    s.rdb,
		reads:  make(map[slot]string),
		writes: make(map[slot]write),
	}
}

// slot addresses a plain key (field == "") or one hash field.
type slot struct {
	key   string
	field string
}

type write struct {
	value string
	del   bool
}

type reader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGet(ctx context.Context, key, field string) *redis.StringCmd
}

func fetch(ctx context.Context, r reader, s slot) (string, error) {
	var cmd *redis.StringCmd
	if s.field == "" {
		cmd = r.Get(ctx, s.key)
	} else {
		cmd = r.HGet(ctx, s.key, s.field)
	}
	v, err := cmd.Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	return v, err
}

// Tx is a read snapshot plus a write overlay. It is not safe for concurrent use.
type Tx struct {
	rdb    *redis.Client
	reads  map[slot]string
	writes map[slot]write
	order  []slot
}

func (t *Tx) get(ctx context.Context, s slot) (string, error) {
	if w, ok := t.writes[s]; ok {
		if w.del {
			return "", nil
		}
		return w.value, nil
	}
	if v, ok := t.reads[s]; ok {
		return v, nil
	}
	v, err := fetch(ctx, t.rdb, s)
	if err != nil {
		return "", fmt.Errorf("state: read %s: %w", s.key, err)
	}
	t.reads[s] = v
	return v, nil
}

func (t *Tx) stage(s slot, w write) {
	if _, ok := t.writes[s]; !ok {
		t.order = append(t.order, s)
	}
	t.writes[s] = w
}

func (t *Tx) put(s slot, value string) { t.stage(s, write{value: value}) }

func (t *Tx) del(s slot) { t.stage(s, write{del: true}) }

// Dirty reports whether the transaction has staged writes.
func (t *Tx) Dirty() bool { return len(t.writes) > 0 }

// Discard drops the overlay and the snapshot.
func (t *Tx) Discard() {
	clear(t.reads)
	clear(t.writes)
	t.order = nil
}

// Commit applies the staged writes if every read slot still holds the value
// the transaction saw. It returns ErrConflict otherwise.
func (t *Tx) Commit(ctx context.Context) error {
	if !t.Dirty() {
		return nil
	}
	keys := t.watchKeys()
	err := t.rdb.Watch(ctx, func(tx *redis.Tx) error {
		for s, want := range t.reads {
			got, err := fetch(ctx, tx, s)
			if err != nil {
				return err
			}
			if got != want {
				return ErrConflict
			}
		}
		_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
			for _, s := range t.order {
				w := t.writes[s]
				switch {
				case s.field == "" && w.del:
					p.Del(ctx, s.key)
				case s.field == "":
					p.Set(ctx, s.key, w.value, 0)
				case w.del:
					p.HDel(ctx, s.key, s.field)
				default:
					p.HSet(ctx, s.key, s.field, w.value)
				}
			}
			return nil
		})
		return err
	}, keys...)
	if errors.Is(err, redis.TxFailedErr) {
		return ErrConflict
	}
	if err != nil {
		return err
	}
	t.Discard()
	return nil
}

func (t *Tx) watchKeys() []string {
	seen := make(map[string]struct{}, len(t.reads)+len(t.writes))
	for s := range t.reads {
		seen[s.key] = struct{}{}
	}
	for s := range t.writes {
		seen[s.key] = struct{}{}
	}
	keys := make([]string, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
