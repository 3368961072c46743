package server

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Scheduler 按固定频率向所有房间广播快照。
// 各房间的 Tick 互不阻塞，并行度由 workers 限制。
type Scheduler struct {
	reg     *Registry
	workers int
	stats   *Metrics

	interval atomic.Int64  // ns
	reset    chan struct{} // 间隔变更通知
}

// TickSummary 一轮广播的汇总
type TickSummary struct {
	Rooms     int
	Delivered int
	Reaped    int
	Closed    int
	Elapsed   time.Duration
}

func NewScheduler(reg *Registry, cfg Config, stats *Metrics) *Scheduler {
	s := &Scheduler{
		reg:     reg,
		workers: cfg.TickWorkers,
		stats:   stats,
		reset:   make(chan struct{}, 1),
	}
	s.interval.Store(int64(cfg.TickInterval()))
	return s
}

// Interval 当前广播周期
func (s *Scheduler) Interval() time.Duration {
	return time.Duration(s.interval.Load())
}

// SetRate 热更新广播频率（Hz），下一个周期生效。
// 已有未消费的通知时不再重复投递，Run 总是读取最新间隔。
func (s *Scheduler) SetRate(hz int) {
	s.interval.Store(int64(time.Second / time.Duration(hz)))
	select {
	case s.reset <- struct{}{}:
	default:
	}
}

// Run 启动广播循环，ctx 取消后返回
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval())
	defer ticker.Stop()
	Log.Infow("broadcast scheduler started", "interval", s.Interval(), "workers", s.workers)
	for {
		select {
		case <-ctx.Done():
			Log.Info("broadcast scheduler stopped")
			return
		case <-s.reset:
			d := s.Interval()
			ticker.Reset(d)
			Log.Infow("broadcast interval changed", "interval", d)
		case <-ticker.C:
			sum := s.Tick()
			if sum.Reaped > 0 || sum.Closed > 0 {
				Log.Debugw("tick reaped members", "rooms", sum.Rooms, "reaped", sum.Reaped, "closed", sum.Closed)
			}
		}
	}
}

// Tick 对当前所有房间执行一次广播；单个房间的失败不影响其他房间
func (s *Scheduler) Tick() TickSummary {
	start := time.Now()
	rooms := s.reg.Rooms()

	var delivered, reaped, closed atomic.Int64
	var g errgroup.Group
	g.SetLimit(s.workers)
	for _, r := range rooms {
		g.Go(func() error {
			res, err := r.Tick()
			if err != nil {
				// 房间在本轮中被销毁
				return nil
			}
			delivered.Add(int64(res.Delivered))
			reaped.Add(int64(len(res.Reaped)))
			if res.Closed {
				closed.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()

	elapsed := time.Since(start)
	s.stats.AddTick(elapsed.Nanoseconds())
	return TickSummary{
		Rooms:     len(rooms),
		Delivered: int(delivered.Load()),
		Reaped:    int(reaped.Load()),
		Closed:    int(closed.Load()),
		Elapsed:   elapsed,
	}
}
