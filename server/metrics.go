package server

import (
	"sync/atomic"
)

// Metrics 记录服务运行期的关键指标（用于监控与调试）。nil 接收者上的调用是空操作。
type Metrics struct {
	RoomsCreated     int64 // 创建的房间数
	RoomsDestroyed   int64 // 销毁的房间数
	PlayersJoined    int64 // 加入房间的次数（含建房）
	MessagesHandled  int64 // 成功分派的入站消息
	DecodeErrors     int64 // 结构错误被丢弃的消息
	UnknownIntents   int64 // 未知 type 被丢弃的消息
	RejectedRequests int64 // 以 error 消息回绝的请求
	SendFailures     int64 // 因发送失败被移除的成员
	LevelsAdvanced   int64 // 全员 ready 触发的关卡推进
	Reconnects       int64 // 以 player_id 接管已有玩家的次数
	TickCount        int64 // 广播 Tick 次数
	TotalTickNs      int64 // Tick 累计耗时（纳秒）
}

func (m *Metrics) incRoomsCreated() {
	if m != nil {
		atomic.AddInt64(&m.RoomsCreated, 1)
	}
}

func (m *Metrics) incRoomsDestroyed() {
	if m != nil {
		atomic.AddInt64(&m.RoomsDestroyed, 1)
	}
}

func (m *Metrics) incPlayersJoined() {
	if m != nil {
		atomic.AddInt64(&m.PlayersJoined, 1)
	}
}

func (m *Metrics) incMessagesHandled() {
	if m != nil {
		atomic.AddInt64(&m.MessagesHandled, 1)
	}
}

func (m *Metrics) incDecodeErrors() {
	if m != nil {
		atomic.AddInt64(&m.DecodeErrors, 1)
	}
}

func (m *Metrics) incUnknownIntents() {
	if m != nil {
		atomic.AddInt64(&m.UnknownIntents, 1)
	}
}

func (m *Metrics) incRejected() {
	if m != nil {
		atomic.AddInt64(&m.RejectedRequests, 1)
	}
}

func (m *Metrics) incSendFailures() {
	if m != nil {
		atomic.AddInt64(&m.SendFailures, 1)
	}
}

func (m *Metrics) incLevelsAdvanced() {
	if m != nil {
		atomic.AddInt64(&m.LevelsAdvanced, 1)
	}
}

func (m *Metrics) incReconnects() {
	if m != nil {
		atomic.AddInt64(&m.Reconnects, 1)
	}
}

func (m *Metrics) AddTick(ns int64) {
	if m == nil {
		return
	}
	atomic.AddInt64(&m.TickCount, 1)
	atomic.AddInt64(&m.TotalTickNs, ns)
}

// Snapshot 返回只读副本，便于 HTTP 输出
func (m *Metrics) Snapshot() map[string]any {
	if m == nil {
		return map[string]any{}
	}
	tick := atomic.LoadInt64(&m.TickCount)
	total := atomic.LoadInt64(&m.TotalTickNs)
	var avgMs float64
	if tick > 0 {
		avgMs = float64(total) / float64(tick) / 1e6
	}
	return map[string]any{
		"rooms_created":     atomic.LoadInt64(&m.RoomsCreated),
		"rooms_destroyed":   atomic.LoadInt64(&m.RoomsDestroyed),
		"players_joined":    atomic.LoadInt64(&m.PlayersJoined),
		"messages_handled":  atomic.LoadInt64(&m.MessagesHandled),
		"decode_errors":     atomic.LoadInt64(&m.DecodeErrors),
		"unknown_intents":   atomic.LoadInt64(&m.UnknownIntents),
		"rejected_requests": atomic.LoadInt64(&m.RejectedRequests),
		"send_failures":     atomic.LoadInt64(&m.SendFailures),
		"levels_advanced":   atomic.LoadInt64(&m.LevelsAdvanced),
		"reconnects":        atomic.LoadInt64(&m.Reconnects),
		"tick_count":        tick,
		"avg_tick_ms":       avgMs,
	}
}
