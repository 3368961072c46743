package server

import (
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

// roomWords word 风格的房间号词表
var roomWords = []string{"FIRE", "WIND", "MOON", "STAR", "BOLT", "WAVE", "ROCK", "MIST"}

// tokenChars token 风格的字符集（去掉易混淆的 0/O/1/I）
const tokenChars = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

const (
	tokenLength     = 6
	maxRoomIDLength = 8
)

// Registry 管理所有在线房间与已连接玩家。由 main 创建并显式传给各处理器，生命周期等同进程。
// 注册表锁只保护顶层索引，从不在持锁时等待房间 actor。
type Registry struct {
	cfg        Config
	stats      *Metrics
	rejectLate atomic.Bool // 游戏开始后是否拒绝加入，可热更新

	mu         sync.RWMutex
	rooms      map[string]*Room
	pending    map[string]bool      // 已占用、房间尚未建好的房间号
	playerRoom map[PlayerID]string  // playerID -> roomID
	players    map[PlayerID]*Player // 已连接玩家，用于按 player_id 重连
}

// NewRegistry 创建房间注册表
func NewRegistry(cfg Config, stats *Metrics) *Registry {
	g := &Registry{
		cfg:        cfg,
		stats:      stats,
		rooms:      make(map[string]*Room),
		pending:    make(map[string]bool),
		playerRoom: make(map[PlayerID]string),
		players:    make(map[PlayerID]*Player),
	}
	g.rejectLate.Store(cfg.RejectJoinAfterStart)
	return g
}

// RejectJoinAfterStart 当前的迟到加入策略
func (g *Registry) RejectJoinAfterStart() bool { return g.rejectLate.Load() }

// SetRejectJoinAfterStart 热更新迟到加入策略，对之后的加入请求生效
func (g *Registry) SetRejectJoinAfterStart(v bool) { g.rejectLate.Store(v) }

// MaxPlayers 每个房间的人数上限
func (g *Registry) MaxPlayers() int { return g.cfg.MaxPlayers }

// Attach 为连接绑定玩家。
// 客户端携带已知 player_id 时接管原玩家状态（旧连接被替换并关闭），否则创建新玩家。
func (g *Registry) Attach(id PlayerID, username string, conn Conn) (*Player, bool) {
	g.mu.Lock()
	if id != "" {
		if p, ok := g.players[id]; ok {
			old := p.swapConn(conn)
			g.mu.Unlock()
			if old != nil && old != conn {
				_ = old.Close()
			}
			g.stats.incReconnects()
			Log.Infow("player resumed", "player", id)
			return p, true
		}
	} else {
		id = PlayerID(uuid.NewString())
	}
	if username == "" {
		username = fmt.Sprintf("Player%d", len(g.players)+1)
	}
	p := NewPlayer(id, username, conn)
	g.players[id] = p
	g.mu.Unlock()
	return p, false
}

// Detach 连接关闭时的清理：仅当 conn 仍是玩家当前连接时移除玩家并离开房间。
// 返回是否执行了清理（被重连接管的旧连接返回 false）。
func (g *Registry) Detach(p *Player, conn Conn) bool {
	g.mu.Lock()
	cur, ok := g.players[p.ID]
	if !ok || cur != p || p.Conn() != conn {
		g.mu.Unlock()
		return false
	}
	delete(g.players, p.ID)
	roomID := g.playerRoom[p.ID]
	g.mu.Unlock()

	if roomID != "" {
		g.LeaveRoom(roomID, p.ID)
	}
	return true
}

// CreateRoom 以 host 为唯一成员创建房间。
// requestedID 为空时生成未被占用的房间号；指定的房间号已存在时返回 ErrDuplicateRoom。
// host 仍在其他房间时，先占下房间号再离开原房间，校验失败不影响原房间。
func (g *Registry) CreateRoom(host *Player, requestedID string) (*Room, JoinResult, error) {
	id := normalizeRoomID(requestedID)
	if requestedID != "" && !validRoomID(id) {
		return nil, JoinResult{}, fmt.Errorf("%w: %q", ErrInvalidRoomID, requestedID)
	}

	g.mu.Lock()
	if id != "" {
		if g.takenLocked(id) {
			g.mu.Unlock()
			return nil, JoinResult{}, fmt.Errorf("%w: %s", ErrDuplicateRoom, id)
		}
	} else {
		id = g.generateIDLocked()
	}
	g.pending[id] = true
	prev := g.playerRoom[host.ID]
	g.mu.Unlock()

	if prev != "" {
		g.LeaveRoom(prev, host.ID)
	}

	g.mu.Lock()
	delete(g.pending, id)
	r := newRoom(id, host, g.cfg.MaxPlayers, g.hooks(), g.stats)
	g.rooms[id] = r
	g.playerRoom[host.ID] = id
	total := len(g.rooms)
	g.mu.Unlock()

	g.stats.incRoomsCreated()
	g.stats.incPlayersJoined()
	Log.Infow("room created", "room", id, "host", host.ID, "rooms", total)
	return r, JoinResult{RoomID: id, PlayerID: host.ID, Color: host.Color, PlayerCount: 1}, nil
}

// JoinRoom 将玩家加入已有房间并分配颜色。
// 玩家仍在其他房间时，先在目标房间预留名额，成功后才离开原房间。
func (g *Registry) JoinRoom(roomID string, p *Player) (*Room, JoinResult, error) {
	r := g.Room(roomID)
	if r == nil {
		return nil, JoinResult{}, fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	reject := g.rejectLate.Load()
	if prev := g.RoomOf(p.ID); prev != nil && prev != r {
		if err := r.Reserve(p.ID, reject); err != nil {
			return nil, JoinResult{}, joinError(roomID, err)
		}
		g.LeaveRoom(prev.ID, p.ID)
	}
	res, err := r.Join(p, reject)
	if err != nil {
		return nil, JoinResult{}, joinError(roomID, err)
	}
	g.stats.incPlayersJoined()
	Log.Infow("player joined room", "room", r.ID, "player", p.ID, "count", res.PlayerCount, "max", g.cfg.MaxPlayers)
	return r, res, nil
}

// joinError 已停止的房间对客户端表现为不存在
func joinError(roomID string, err error) error {
	if errors.Is(err, ErrRoomClosed) {
		return fmt.Errorf("%w: %s", ErrRoomNotFound, roomID)
	}
	return err
}

// LeaveRoom 将玩家移出房间，返回房间是否因此销毁。对已不在房间的玩家是空操作。
func (g *Registry) LeaveRoom(roomID string, id PlayerID) bool {
	r := g.Room(roomID)
	if r == nil {
		return false
	}
	res, err := r.Leave(id)
	if err != nil {
		return false
	}
	return res.Destroyed
}

// Room 按房间号查找（不区分大小写）
func (g *Registry) Room(id string) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.rooms[normalizeRoomID(id)]
}

// RoomOf 返回玩家当前所在房间
func (g *Registry) RoomOf(id PlayerID) *Room {
	g.mu.RLock()
	defer g.mu.RUnlock()
	roomID, ok := g.playerRoom[id]
	if !ok {
		return nil
	}
	return g.rooms[roomID]
}

// Rooms 返回当前所有房间的快照（按房间号排序）
func (g *Registry) Rooms() []*Room {
	g.mu.RLock()
	rooms := make([]*Room, 0, len(g.rooms))
	for _, r := range g.rooms {
		rooms = append(rooms, r)
	}
	g.mu.RUnlock()
	sort.Slice(rooms, func(i, j int) bool { return rooms[i].ID < rooms[j].ID })
	return rooms
}

// Len 在线房间数
func (g *Registry) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.rooms)
}

// Shutdown 关闭所有房间
func (g *Registry) Shutdown() {
	for _, r := range g.Rooms() {
		r.Close(ReasonServerShutdown)
	}
	Log.Info("registry stopped")
}

// hooks 房间 actor 回调：在 actor 协程内同步注册表索引
func (g *Registry) hooks() roomHooks {
	return roomHooks{
		onJoin: func(r *Room, id PlayerID) {
			g.mu.Lock()
			g.playerRoom[id] = r.ID
			g.mu.Unlock()
		},
		onLeave: func(r *Room, id PlayerID) {
			g.mu.Lock()
			if g.playerRoom[id] == r.ID {
				delete(g.playerRoom, id)
			}
			g.mu.Unlock()
		},
		onClose: func(r *Room, members []PlayerID) {
			g.mu.Lock()
			if g.rooms[r.ID] == r {
				delete(g.rooms, r.ID)
			}
			for _, id := range members {
				if g.playerRoom[id] == r.ID {
					delete(g.playerRoom, id)
				}
			}
			g.mu.Unlock()
		},
	}
}

func (g *Registry) takenLocked(id string) bool {
	_, exists := g.rooms[id]
	return exists || g.pending[id]
}

// generateIDLocked 生成未被占用的房间号（需持有写锁）
func (g *Registry) generateIDLocked() string {
	if g.cfg.RoomIDStyle == RoomIDWord {
		// 打乱词表后取第一个空闲词；全部占用时追加数字；仍冲突则回退 token
		order := make([]string, len(roomWords))
		copy(order, roomWords)
		for i := len(order) - 1; i > 0; i-- {
			j := randInt(i + 1)
			order[i], order[j] = order[j], order[i]
		}
		for _, w := range order {
			if !g.takenLocked(w) {
				return w
			}
		}
		for _, w := range order {
			for d := 2; d <= 9; d++ {
				id := fmt.Sprintf("%s%d", w, d)
				if !g.takenLocked(id) {
					return id
				}
			}
		}
	}
	for {
		id := generateToken(tokenLength)
		if !g.takenLocked(id) {
			return id
		}
	}
}

func generateToken(n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = tokenChars[randInt(len(tokenChars))]
	}
	return string(b)
}

// randInt 返回 [0, max) 的随机数
func randInt(max int) int {
	n, err := rand.Int(rand.Reader, big.NewInt(int64(max)))
	if err != nil {
		// crypto/rand 失败时退回到 uuid 的随机字节
		u := uuid.New()
		return int(u[0]) % max
	}
	return int(n.Int64())
}

func normalizeRoomID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

func validRoomID(id string) bool {
	if id == "" || len(id) > maxRoomIDLength {
		return false
	}
	for _, c := range id {
		if (c < 'A' || c > 'Z') && (c < '0' || c > '9') {
			return false
		}
	}
	return true
}
