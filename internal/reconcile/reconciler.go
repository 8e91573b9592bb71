package reconcile

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"tradedesk/internal/deadletter"
	"tradedesk/internal/gateway/events"
	"tradedesk/internal/logger"
	"tradedesk/internal/order"

	"golang.org/x/sync/errgroup"
)

// Source 是一条事件流，由 events.Subscriber 实现。
type Source interface {
	Stream() string
	Run(ctx context.Context, h events.Handler) error
	Stats() events.Stats
}

// CursorWriter 持久化每条流最后消费的事件 id。
type CursorWriter interface {
	Set(ctx context.Context, stream, eventID string) error
}

// Options 控制未落库订单的重试。
type Options struct {
	NotFoundRetries int
	NotFoundDelay   time.Duration
}

// StreamStats 合并连接统计与处理统计。
type StreamStats struct {
	events.Stats
	Processed    int64 `json:"processed"`
	Retried      int64 `json:"retried"`
	DeadLettered int64 `json:"dead_lettered"`
}

type counters struct {
	processed, retried, deadLettered int64
}

// Reconciler 每条事件流一个消费者，按到达顺序处理；单条事件失败或 panic 只进死信，不影响后续事件。
type Reconciler struct {
	sources  []Source
	registry *HandlerRegistry
	cursors  CursorWriter
	dead     deadletter.Store
	opts     Options

	mu    sync.Mutex
	stats map[string]*counters
}

func NewReconciler(registry *HandlerRegistry, cursors CursorWriter, dead deadletter.Store, opts Options, sources ...Source) *Reconciler {
	return &Reconciler{
		sources:  sources,
		registry: registry,
		cursors:  cursors,
		dead:     dead,
		opts:     opts,
		stats:    make(map[string]*counters),
	}
}

// Run 阻塞直到 ctx 取消。
func (r *Reconciler) Run(ctx context.Context) error {
	if len(r.sources) == 0 {
		logger.Warnf("reconcile: no event streams configured")
		<-ctx.Done()
		return nil
	}
	g, gctx := errgroup.WithContext(ctx)
	for _, src := range r.sources {
		src := src
		g.Go(func() error {
			stream := src.Stream()
			return src.Run(gctx, func(ctx context.Context, msg events.Message) {
				r.handle(ctx, stream, msg)
			})
		})
	}
	return g.Wait()
}

func (r *Reconciler) handle(ctx context.Context, stream string, msg events.Message) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			logger.Errorf("reconcile: panic handling %s event %s: %v", stream, msg.ID, rec)
			debug.PrintStack()
			r.deadLetter(ctx, stream, msg, fmt.Errorf("panic: %v", rec))
		}
		r.ack(ctx, stream, msg.ID)
		if dur := time.Since(start); dur > time.Second {
			logger.Warnf("reconcile: slow %s event %s took %v", stream, msg.ID, dur)
		}
	}()

	if msg.Oversized {
		r.deadLetter(ctx, stream, msg, fmt.Errorf("%w: event exceeds %d bytes", ErrUnprocessable, events.MaxEventBytes))
		return
	}
	h, ok := r.registry.Get(stream)
	if !ok {
		r.deadLetter(ctx, stream, msg, fmt.Errorf("no handler for stream %s", stream))
		return
	}
	err := h.Handle(ctx, msg)
	for attempt := 0; errors.Is(err, order.ErrNotFound) && attempt < r.opts.NotFoundRetries; attempt++ {
		r.count(stream, func(c *counters) { c.retried++ })
		if !sleep(ctx, r.opts.NotFoundDelay) {
			return
		}
		err = h.Handle(ctx, msg)
	}
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		r.deadLetter(ctx, stream, msg, err)
		return
	}
	r.count(stream, func(c *counters) { c.processed++ })
}

func (r *Reconciler) ack(ctx context.Context, stream, id string) {
	if r.cursors == nil || id == "" || ctx.Err() != nil {
		return
	}
	if err := r.cursors.Set(ctx, stream, id); err != nil {
		logger.Warnf("reconcile: save %s cursor %s failed: %v", stream, id, err)
	}
}

func (r *Reconciler) deadLetter(ctx context.Context, stream string, msg events.Message, cause error) {
	r.count(stream, func(c *counters) { c.deadLettered++ })
	logger.Errorw("事件处理失败，写入死信", "stream", stream, "event_id", msg.ID, "error", cause)
	if r.dead == nil {
		return
	}
	entry := deadletter.NewEntry(stream, msg.ID, cause.Error(), msg.Data)
	if err := r.dead.Append(context.WithoutCancel(ctx), entry); err != nil {
		logger.Errorw("死信写入失败", "stream", stream, "event_id", msg.ID, "error", err)
	}
}

func (r *Reconciler) count(stream string, fn func(*counters)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.stats[stream]
	if !ok {
		c = &counters{}
		r.stats[stream] = c
	}
	fn(c)
}

// Stats 返回各事件流的统计，按名称排序。
func (r *Reconciler) Stats() []StreamStats {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]StreamStats, 0, len(r.sources))
	for _, src := range r.sources {
		s := StreamStats{Stats: src.Stats()}
		if c, ok := r.stats[src.Stream()]; ok {
			s.Processed = c.processed
			s.Retried = c.retried
			s.DeadLettered = c.deadLettered
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Stream < out[j].Stream })
	return out
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
