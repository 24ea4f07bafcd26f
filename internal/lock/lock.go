package lock

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/smallbiznis/stockledger/internal/observability/metrics"
)

// Locker serializes work on overlapping entities. Acquire sorts keys so two
// callers never wait on each other in opposite order, and skips keys already
// held by ctx so nested service calls do not deadlock on themselves.
type Locker interface {
	Acquire(ctx context.Context, keys ...string) (context.Context, func(), error)
}

type backend interface {
	lock(ctx context.Context, key string) (token string, err error)
	unlock(ctx context.Context, key, token string)
}

type heldKey struct{}

type locker struct {
	backend backend
	metrics *metrics.PostingMetrics
}

func newLocker(b backend, pm *metrics.PostingMetrics) *locker {
	return &locker{backend: b, metrics: pm}
}

func (l *locker) Acquire(ctx context.Context, keys ...string) (context.Context, func(), error) {
	held := heldFrom(ctx)
	pending := normalize(keys, held)
	if len(pending) == 0 {
		return ctx, func() {}, nil
	}

	tokens := make([]string, 0, len(pending))
	for i, key := range pending {
		start := time.Now()
		token, err := l.backend.lock(ctx, key)
		if err != nil {
			for j := i - 1; j >= 0; j-- {
				l.backend.unlock(context.Background(), pending[j], tokens[j])
			}
			return ctx, func() {}, err
		}
		l.metrics.ObserveLockWait(resourceOf(key), time.Since(start))
		tokens = append(tokens, token)
	}

	next := make(map[string]struct{}, len(held)+len(pending))
	for k := range held {
		next[k] = struct{}{}
	}
	for _, k := range pending {
		next[k] = struct{}{}
	}

	var once sync.Once
	release := func() {
		once.Do(func() {
			for i := len(pending) - 1; i >= 0; i-- {
				l.backend.unlock(context.Background(), pending[i], tokens[i])
			}
		})
	}
	return context.WithValue(ctx, heldKey{}, next), release, nil
}

// Holds reports whether ctx already carries key.
func Holds(ctx context.Context, key string) bool {
	_, ok := heldFrom(ctx)[key]
	return ok
}

func heldFrom(ctx context.Context) map[string]struct{} {
	if ctx == nil {
		return nil
	}
	held, _ := ctx.Value(heldKey{}).(map[string]struct{})
	return held
}

func normalize(keys []string, held map[string]struct{}) []string {
	seen := make(map[string]struct{}, len(keys))
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		k = strings.TrimSpace(k)
		if k == "" {
			continue
		}
		if _, ok := held[k]; ok {
			continue
		}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func resourceOf(key string) string {
	if idx := strings.Index(key, ":"); idx > 0 {
		return key[:idx]
	}
	return key
}

func AccountKey(code string) string { return "account:" + code }

func StockKey(productID int64, location string) string {
	return fmt.Sprintf("stock:%d:%s", productID, location)
}

func EntryKey(ref string) string { return "entry:" + ref }

func InventoryTxnKey(reference string) string { return "inventory_txn:" + reference }

const (
	FunctionalCurrencyKey = "currency:functional"
	FiscalKey             = "fiscal"
)
