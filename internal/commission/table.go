package commission

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"tradedesk/internal/logger"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

// Store 是佣金表的持久化接口。
type Store interface {
	ListCommissions(ctx context.Context) (map[string]decimal.Decimal, error)
	UpsertCommission(ctx context.Context, name string, percent decimal.Decimal) error
}

// Snapshot 是不可变的费率快照。
type Snapshot struct {
	Version  int64
	LoadedAt time.Time
	Percent  map[string]decimal.Decimal
	// Defaulted 记录哪些费率来自配置缺省值而非数据库。
	Defaulted []string
}

func (s Snapshot) rates() Rates {
	return Rates{Platform: s.Percent[NamePlatform], ReferringAgent: s.Percent[NameReferringAgent]}
}

// Table 是佣金表的读穿缓存：快照过期或被 Invalidate 后，下一次读取回源。
type Table struct {
	store    Store
	defaults Rates
	ttl      time.Duration
	now      func() time.Time

	group   singleflight.Group
	current atomic.Pointer[Snapshot]
	version atomic.Int64
	// gen 每次 Invalidate 加一；加载期间 gen 变化则结果不入缓存。
	gen atomic.Int64

	mu        sync.Mutex
	listeners []func(Snapshot)
}

// NewTable ttl<=0 表示只在 Invalidate 时回源。
func NewTable(store Store, defaults Rates, ttl time.Duration) *Table {
	return &Table{store: store, defaults: defaults, ttl: ttl, now: time.Now}
}

// Rates 返回当前费率。
func (t *Table) Rates(ctx context.Context) (Rates, error) {
	snap, err := t.Snapshot(ctx)
	if err != nil {
		return Rates{}, err
	}
	return snap.rates(), nil
}

// Snapshot 返回当前快照，必要时回源加载。
func (t *Table) Snapshot(ctx context.Context) (Snapshot, error) {
	if snap := t.current.Load(); snap != nil && t.fresh(snap) {
		return *snap, nil
	}
	gen := t.gen.Load()
	v, err, _ := t.group.Do(strconv.FormatInt(gen, 10), func() (any, error) {
		if snap := t.current.Load(); snap != nil && t.fresh(snap) {
			return snap, nil
		}
		return t.load(ctx, gen)
	})
	if err != nil {
		if stale := t.current.Load(); stale != nil {
			logger.Warnf("commission table reload failed, serving version %d: %v", stale.Version, err)
			return *stale, nil
		}
		return Snapshot{}, err
	}
	return *v.(*Snapshot), nil
}

// Invalidate 丢弃当前快照（管理端修改费率后调用）。
func (t *Table) Invalidate() {
	t.mu.Lock()
	t.gen.Add(1)
	t.current.Store(nil)
	t.mu.Unlock()
}

// Update 写入单个费率并使缓存失效。
func (t *Table) Update(ctx context.Context, name string, percent decimal.Decimal) error {
	name = strings.TrimSpace(name)
	if name != NamePlatform && name != NameReferringAgent {
		return fmt.Errorf("unknown commission %q", name)
	}
	if percent.IsNegative() || percent.GreaterThan(MaxPercent) {
		return fmt.Errorf("commission %s percent_value %s out of range [0, %s]", name, percent, MaxPercent)
	}
	if err := t.store.UpsertCommission(ctx, name, percent); err != nil {
		return fmt.Errorf("upsert commission %s: %w", name, err)
	}
	t.Invalidate()
	return nil
}

// OnChange 注册快照重新加载后的回调。
func (t *Table) OnChange(fn func(Snapshot)) {
	if fn == nil {
		return
	}
	t.mu.Lock()
	t.listeners = append(t.listeners, fn)
	t.mu.Unlock()
}

func (t *Table) fresh(snap *Snapshot) bool {
	if t.ttl <= 0 {
		return true
	}
	return t.now().Sub(snap.LoadedAt) < t.ttl
}

func (t *Table) load(ctx context.Context, gen int64) (*Snapshot, error) {
	rows, err := t.store.ListCommissions(ctx)
	if err != nil {
		return nil, fmt.Errorf("load commissions: %w", err)
	}
	percent := make(map[string]decimal.Decimal, 2)
	var defaulted []string
	for name, def := range map[string]decimal.Decimal{
		NamePlatform:       t.defaults.Platform,
		NameReferringAgent: t.defaults.ReferringAgent,
	} {
		if v, ok := rows[name]; ok {
			percent[name] = v
			continue
		}
		percent[name] = def
		defaulted = append(defaulted, name)
	}
	sort.Strings(defaulted)
	snap := &Snapshot{
		LoadedAt:  t.now(),
		Percent:   percent,
		Defaulted: defaulted,
	}

	t.mu.Lock()
	if t.gen.Load() != gen {
		// 读取期间费率被修改：结果只交给本轮调用方，不覆盖缓存。
		snap.Version = t.version.Load()
		t.mu.Unlock()
		logger.Debugf("commission table load superseded by invalidate, not cached")
		return snap, nil
	}
	snap.Version = t.version.Add(1)
	t.current.Store(snap)
	listeners := slices.Clone(t.listeners)
	t.mu.Unlock()

	if len(defaulted) > 0 {
		logger.Warnf("commission table missing %v, using configured defaults", defaulted)
	}
	logger.Debugf("commission table loaded version=%d platform=%s referring-agent=%s",
		snap.Version, percent[NamePlatform], percent[NameReferringAgent])
	notify(listeners, *snap)
	return snap, nil
}

func notify(listeners []func(Snapshot), snap Snapshot) {
	for _, fn := range listeners {
		go func(cb func(Snapshot)) {
			defer func() {
				if r := recover(); r != nil {
					logger.Errorf("commission listener panic: %v", r)
				}
			}()
			cb(snap)
		}(fn)
	}
}
