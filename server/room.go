package server

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// Room 房间：所有状态由单个 actor 协程持有，外部通过命令通道提交闭包并等待完成。
// 同一房间的读改写因此天然串行，不同房间完全并行。
type Room struct {
	ID        string
	CreatedAt time.Time

	hostID     PlayerID
	maxPlayers int
	players    map[PlayerID]*Player
	reserved   map[PlayerID]bool // 从其他房间转入、尚未完成 Join 的玩家，计入人数上限
	started    bool              // 只允许 false → true
	level      string
	syncData   json.RawMessage
	ticks      int64

	failed      []PlayerID // 本轮发送失败、待移除的成员
	closed      bool
	closeReason string

	cmds  chan roomCmd
	done  chan struct{}
	hooks roomHooks
	stats *Metrics
}

type roomCmd struct {
	fn   func()
	done chan struct{}
}

// roomHooks 由注册表提供：成员离开、房间销毁时同步注册表索引（在 actor 协程内调用）
type roomHooks struct {
	onJoin  func(r *Room, id PlayerID)
	onLeave func(r *Room, id PlayerID)
	onClose func(r *Room, members []PlayerID)
}

// JoinResult 加入/创建房间的结果
type JoinResult struct {
	RoomID      string
	PlayerID    PlayerID
	Color       Color
	PlayerCount int
}

// LeaveResult 离开房间的结果；Removed=false 表示玩家早已不在房间（幂等）
type LeaveResult struct {
	Removed   bool
	Destroyed bool
}

// TickResult 一次广播的结果
type TickResult struct {
	Delivered int
	Reaped    []PlayerID
	Closed    bool
}

// RoomInfo 房间只读摘要（管理接口使用）
type RoomInfo struct {
	ID          string       `json:"room_id"`
	HostID      PlayerID     `json:"host_id"`
	PlayerCount int          `json:"player_count"`
	MaxPlayers  int          `json:"max_players"`
	Started     bool         `json:"started"`
	Level       string       `json:"level"`
	Ticks       int64        `json:"ticks"`
	CreatedAt   time.Time    `json:"created_at"`
	Players     []PlayerView `json:"players"`
}

// 房间关闭原因
const (
	ReasonHostLeft       = "host_left"
	ReasonEmpty          = "empty"
	ReasonServerShutdown = "server_shutdown"
)

// newRoom 创建房间并以房主为唯一成员启动 actor
func newRoom(id string, host *Player, maxPlayers int, hooks roomHooks, stats *Metrics) *Room {
	r := &Room{
		ID:         id,
		CreatedAt:  time.Now(),
		hostID:     host.ID,
		maxPlayers: maxPlayers,
		players:    make(map[PlayerID]*Player),
		reserved:   make(map[PlayerID]bool),
		level:      FirstLevel,
		cmds:       make(chan roomCmd),
		done:       make(chan struct{}),
		hooks:      hooks,
		stats:      stats,
	}
	host.Color = nextColor(nil)
	host.RoomID = id
	host.Ready = false
	r.players[host.ID] = host
	go r.run()
	return r
}

// run actor 主循环：执行命令 → 移除发送失败的成员 → 应答
func (r *Room) run() {
	for cmd := range r.cmds {
		cmd.fn()
		r.reap()
		if r.closed {
			close(r.done)
			close(cmd.done)
			return
		}
		close(cmd.done)
	}
}

// exec 在 actor 协程内执行 fn 并等待完成；房间已销毁时返回 ErrRoomClosed
func (r *Room) exec(fn func()) error {
	cmd := roomCmd{fn: fn, done: make(chan struct{})}
	select {
	case r.cmds <- cmd:
	case <-r.done:
		return ErrRoomClosed
	}
	<-cmd.done
	return nil
}

// Done 房间销毁后关闭
func (r *Room) Done() <-chan struct{} { return r.done }

// Closed 报告房间是否已销毁
func (r *Room) Closed() bool {
	select {
	case <-r.done:
		return true
	default:
		return false
	}
}

// HostID 房主在创建时固定，不会转移
func (r *Room) HostID() PlayerID { return r.hostID }

// Join 加入成员并分配颜色，向其他成员广播 player_joined
func (r *Room) Join(p *Player, rejectAfterStart bool) (JoinResult, error) {
	var (
		res JoinResult
		err error
	)
	xerr := r.exec(func() {
		if existing, ok := r.players[p.ID]; ok {
			// 重复加入（如重连）：返回现有分配
			res = JoinResult{RoomID: r.ID, PlayerID: p.ID, Color: existing.Color, PlayerCount: len(r.players)}
			return
		}
		if r.reserved[p.ID] {
			delete(r.reserved, p.ID)
		} else if err = r.admit(rejectAfterStart); err != nil {
			return
		}
		used := make(map[Color]bool, len(r.players))
		for _, m := range r.players {
			used[m.Color] = true
		}
		p.Color = nextColor(used)
		p.RoomID = r.ID
		p.Ready = false
		r.players[p.ID] = p
		if r.hooks.onJoin != nil {
			r.hooks.onJoin(r, p.ID)
		}
		res = JoinResult{RoomID: r.ID, PlayerID: p.ID, Color: p.Color, PlayerCount: len(r.players)}
		r.broadcast(PlayerJoinedMessage{
			Type:        TypePlayerJoined,
			Player:      p.View(r.hostID),
			PlayerCount: len(r.players),
		}, p.ID)
	})
	if xerr != nil {
		return res, xerr
	}
	return res, err
}

// Reserve 为即将离开其他房间转入的玩家预留名额，之后的 Join 不再重复检查。
// 已是成员或已预留时为空操作。
func (r *Room) Reserve(id PlayerID, rejectAfterStart bool) error {
	var err error
	if xerr := r.exec(func() {
		if _, ok := r.players[id]; ok || r.reserved[id] {
			return
		}
		if err = r.admit(rejectAfterStart); err == nil {
			r.reserved[id] = true
		}
	}); xerr != nil {
		return xerr
	}
	return err
}

// Leave 移除成员；房主离开或房间变空时销毁房间。重复调用是空操作。
func (r *Room) Leave(id PlayerID) (LeaveResult, error) {
	var res LeaveResult
	err := r.exec(func() {
		if _, ok := r.players[id]; !ok {
			return
		}
		res.Removed = true
		res.Destroyed = r.removeMember(id)
	})
	return res, err
}

// Start 房主开始游戏，广播 game_started
func (r *Room) Start(sender PlayerID) error {
	var err error
	if xerr := r.exec(func() {
		if sender != r.hostID {
			err = ErrUnauthorized
			return
		}
		r.started = true
		r.broadcast(GameStartedMessage{Type: TypeGameStarted, PlayerCount: len(r.players)}, "")
	}); xerr != nil {
		return xerr
	}
	return err
}

// UpdatePlayer 合并发送者的部分更新。
// 游戏已开始且全部成员 ready 时推进关卡、重置 ready 并广播一次 level_changed；返回新关卡名。
func (r *Room) UpdatePlayer(sender PlayerID, u PlayerUpdate) (string, bool, error) {
	var (
		level    string
		advanced bool
		err      error
	)
	xerr := r.exec(func() {
		p, ok := r.players[sender]
		if !ok {
			err = ErrRoomNotFound
			return
		}
		p.Apply(u)
		if !r.started || !r.allReady() {
			return
		}
		r.level = NextLevel(r.level)
		for _, m := range r.players {
			m.Ready = false
		}
		level, advanced = r.level, true
		r.stats.incLevelsAdvanced()
		r.broadcast(LevelChangedMessage{Type: TypeLevelChanged, Level: r.level}, "")
	})
	if xerr != nil {
		return "", false, xerr
	}
	return level, advanced, err
}

// SetKey 更新发送者的单个按键状态
func (r *Room) SetKey(sender PlayerID, code string, pressed bool) error {
	var err error
	if xerr := r.exec(func() {
		p, ok := r.players[sender]
		if !ok {
			err = ErrRoomNotFound
			return
		}
		p.Keys[code] = pressed
	}); xerr != nil {
		return xerr
	}
	return err
}

// SetSyncData 房主替换同步数据，由下一次快照带出
func (r *Room) SetSyncData(sender PlayerID, data json.RawMessage) error {
	return r.hostOnly(sender, func() {
		r.syncData = data
	})
}

// ChangeLevel 房主直接设置关卡并广播 level_changed
func (r *Room) ChangeLevel(sender PlayerID, level string) error {
	return r.hostOnly(sender, func() {
		r.level = level
		r.broadcast(LevelChangedMessage{Type: TypeLevelChanged, Level: level}, "")
	})
}

// HostBroadcast 把房主的任意载荷转发给除房主外的所有成员
func (r *Room) HostBroadcast(sender PlayerID, data json.RawMessage) error {
	return r.hostOnly(sender, func() {
		r.broadcast(HostBroadcastMessage{Type: TypeHostBroadcast, Data: data}, r.hostID)
	})
}

// Tick 构建快照并投递给所有成员；投递失败的成员在本轮结束后移除
func (r *Room) Tick() (TickResult, error) {
	var res TickResult
	err := r.exec(func() {
		if len(r.players) == 0 {
			r.shutdown(ReasonEmpty)
			res.Closed = true
			return
		}
		r.ticks++
		b := encode(r.snapshot())
		if b == nil {
			return
		}
		for id, p := range r.players {
			if err := p.send(b); err != nil {
				r.failed = append(r.failed, id)
				continue
			}
			res.Delivered++
		}
		res.Reaped = r.reap()
		res.Closed = r.closed
	})
	return res, err
}

// Info 返回房间摘要
func (r *Room) Info() (RoomInfo, error) {
	var info RoomInfo
	err := r.exec(func() {
		info = RoomInfo{
			ID:          r.ID,
			HostID:      r.hostID,
			PlayerCount: len(r.players),
			MaxPlayers:  r.maxPlayers,
			Started:     r.started,
			Level:       r.level,
			Ticks:       r.ticks,
			CreatedAt:   r.CreatedAt,
			Players:     make([]PlayerView, 0, len(r.players)),
		}
		for _, p := range r.players {
			info.Players = append(info.Players, p.View(r.hostID))
		}
		sort.Slice(info.Players, func(i, j int) bool { return info.Players[i].ID < info.Players[j].ID })
	})
	return info, err
}

// Close 销毁房间（如服务关闭），剩余成员收到 room_closed
func (r *Room) Close(reason string) {
	_ = r.exec(func() {
		r.shutdown(reason)
	})
}

func (r *Room) hostOnly(sender PlayerID, fn func()) error {
	var err error
	if xerr := r.exec(func() {
		if sender != r.hostID {
			err = ErrUnauthorized
			return
		}
		fn()
	}); xerr != nil {
		return xerr
	}
	return err
}

// ---- 以下方法只在 actor 协程内调用 ----

// admit 检查能否再接纳一名新成员
func (r *Room) admit(rejectAfterStart bool) error {
	if r.started && rejectAfterStart {
		return ErrGameAlreadyStarted
	}
	if len(r.players)+len(r.reserved) >= r.maxPlayers {
		return &GameError{Code: CodeRoomFull, Message: fmt.Sprintf("Room is full (max %d players)", r.maxPlayers)}
	}
	return nil
}

func (r *Room) allReady() bool {
	for _, p := range r.players {
		if !p.Ready {
			return false
		}
	}
	return len(r.players) > 0
}

func (r *Room) snapshot() GameUpdateMessage {
	msg := GameUpdateMessage{
		Type:        TypeGameUpdate,
		RoomID:      r.ID,
		PlayerCount: len(r.players),
		Started:     r.started,
		Level:       r.level,
		Players:     make(map[PlayerID]PlayerView, len(r.players)),
	}
	for id, p := range r.players {
		msg.Players[id] = p.View(r.hostID)
	}
	if r.started {
		msg.SyncData = r.syncData
	}
	return msg
}

// broadcast 向除 except 外的成员发送；失败者记入待移除列表
func (r *Room) broadcast(msg any, except PlayerID) {
	b := encode(msg)
	if b == nil {
		return
	}
	for id, p := range r.players {
		if id == except {
			continue
		}
		if err := p.send(b); err != nil {
			r.failed = append(r.failed, id)
		}
	}
}

// removeMember 移除成员并执行销毁规则，返回房间是否被销毁
func (r *Room) removeMember(id PlayerID) bool {
	p, ok := r.players[id]
	if !ok {
		return false
	}
	delete(r.players, id)
	p.RoomID = ""
	p.Ready = false
	if r.hooks.onLeave != nil {
		r.hooks.onLeave(r, id)
	}
	Log.Infow("player left room", "room", r.ID, "player", id, "remaining", len(r.players))

	switch {
	case id == r.hostID:
		r.shutdown(ReasonHostLeft)
		return true
	case len(r.players) == 0:
		r.shutdown(ReasonEmpty)
		return true
	}
	r.broadcast(PlayerLeftMessage{Type: TypePlayerLeft, PlayerID: id}, "")
	return false
}

// reap 移除发送失败的成员（关闭其连接，视同断线）；移除过程中的广播失败会继续入列
func (r *Room) reap() []PlayerID {
	var reaped []PlayerID
	for len(r.failed) > 0 && !r.closed {
		id := r.failed[0]
		r.failed = r.failed[1:]
		p, ok := r.players[id]
		if !ok {
			continue
		}
		r.stats.incSendFailures()
		if c := p.Conn(); c != nil {
			_ = c.Close()
		}
		reaped = append(reaped, id)
		r.removeMember(id)
	}
	r.failed = nil
	return reaped
}

// shutdown 通知并解绑剩余成员，从注册表移除房间，actor 在本命令结束后退出
func (r *Room) shutdown(reason string) {
	if r.closed {
		return
	}
	r.closed = true
	r.closeReason = reason

	b := encode(RoomClosedMessage{Type: TypeRoomClosed, RoomID: r.ID, Reason: reason})
	members := make([]PlayerID, 0, len(r.players))
	for id, p := range r.players {
		members = append(members, id)
		p.RoomID = ""
		p.Ready = false
		if b != nil {
			_ = p.send(b)
		}
	}
	r.players = make(map[PlayerID]*Player)
	r.reserved = make(map[PlayerID]bool)
	if r.hooks.onClose != nil {
		r.hooks.onClose(r, members)
	}
	r.stats.incRoomsDestroyed()
	Log.Infow("room closed", "room", r.ID, "reason", reason, "detached", len(members))
}
