package server

import "sync"

// PlayerID 表示玩家唯一标识（连接生命周期内稳定，重连可复用）
type PlayerID string

// Color 玩家颜色，同一房间内唯一
type Color string

// Palette 颜色分配顺序
var Palette = []Color{"red", "blue", "yellow", "green", "orange", "pink", "purple", "gray"}

// DefaultColor 调色板耗尽时的回退颜色（允许与他人重复）
const DefaultColor Color = "red"

// Position 玩家坐标
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// PlayerView 为广播给客户端的玩家投影
type PlayerView struct {
	ID        PlayerID        `json:"id"`
	Username  string          `json:"username"`
	Position  Position        `json:"position"`
	Direction int             `json:"direction"`
	Frame     string          `json:"frame"`
	Color     Color           `json:"color"`
	Scale     float64         `json:"scale"`
	Ready     bool            `json:"ready"`
	Keys      map[string]bool `json:"keys"`
	Shields   map[string]bool `json:"shields"`
	Dead      bool            `json:"dead"`
	Host      bool            `json:"host"`
}

// Player 一个参与者的可见状态。
// 加入房间后，除 conn 外的字段只在房间 actor 协程内读写。
type Player struct {
	ID       PlayerID
	Username string
	RoomID   string // 弱引用，不持有 Room

	Position  Position
	Direction int
	Frame     string
	Color     Color
	Scale     float64
	Ready     bool
	Keys      map[string]bool
	Shields   map[string]bool
	Dead      bool

	mu   sync.Mutex
	conn Conn // 当前连接的发送端，重连时被替换
}

// NewPlayer 以默认状态创建玩家
func NewPlayer(id PlayerID, username string, conn Conn) *Player {
	return &Player{
		ID:        id,
		Username:  username,
		Position:  Position{X: 50, Y: 50},
		Direction: 1,
		Frame:     "idle",
		Color:     DefaultColor,
		Scale:     1,
		Keys:      make(map[string]bool),
		Shields:   map[string]bool{"1": false, "2": false, "3": false, "4": false},
		conn:      conn,
	}
}

// Conn 返回玩家当前连接
func (p *Player) Conn() Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.conn
}

// swapConn 替换连接并返回旧连接
func (p *Player) swapConn(c Conn) Conn {
	p.mu.Lock()
	defer p.mu.Unlock()
	old := p.conn
	p.conn = c
	return old
}

// send 发送到玩家当前连接；无连接视为已断开
func (p *Player) send(b []byte) error {
	c := p.Conn()
	if c == nil {
		return ErrConnClosed
	}
	return c.Send(b)
}

// Apply 合并部分更新：仅覆盖载荷中出现的字段。颜色由服务端分配，不接受客户端写入。
func (p *Player) Apply(u PlayerUpdate) {
	if u.Position != nil {
		if u.Position.X != nil {
			p.Position.X = *u.Position.X
		}
		if u.Position.Y != nil {
			p.Position.Y = *u.Position.Y
		}
	}
	if u.Direction != nil {
		p.Direction = *u.Direction
	}
	if u.Frame != nil {
		p.Frame = *u.Frame
	}
	if u.Scale != nil {
		p.Scale = *u.Scale
	}
	if u.Ready != nil {
		p.Ready = *u.Ready
	}
	if u.Dead != nil {
		p.Dead = *u.Dead
	}
	if u.Keys != nil {
		p.Keys = cloneFlags(u.Keys)
	}
	if u.Shields != nil {
		p.Shields = cloneFlags(u.Shields)
	}
}

// View 生成快照投影（拷贝 map，避免序列化时与 actor 写入竞争）
func (p *Player) View(hostID PlayerID) PlayerView {
	return PlayerView{
		ID:        p.ID,
		Username:  p.Username,
		Position:  p.Position,
		Direction: p.Direction,
		Frame:     p.Frame,
		Color:     p.Color,
		Scale:     p.Scale,
		Ready:     p.Ready,
		Keys:      cloneFlags(p.Keys),
		Shields:   cloneFlags(p.Shields),
		Dead:      p.Dead,
		Host:      p.ID == hostID,
	}
}

func cloneFlags(m map[string]bool) map[string]bool {
	out := make(map[string]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// nextColor 按调色板顺序取第一个未被占用的颜色，耗尽时回退到 DefaultColor
func nextColor(used map[Color]bool) Color {
	for _, c := range Palette {
		if !used[c] {
			return c
		}
	}
	return DefaultColor
}
