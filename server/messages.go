package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// 入站意图类型（type 字段）
const (
	TypeCreateRoom    = "create_room"
	TypeJoinRoom      = "join_room"
	TypeLeaveRoom     = "leave_room"
	TypeStartGame     = "start_game"
	TypePlayerUpdate  = "player_update"
	TypeKeyInput      = "key_input"
	TypeSyncData      = "sync_data"
	TypeLevelChange   = "level_change"
	TypeHostBroadcast = "host_broadcast"
	TypePing          = "ping"
)

// 出站消息类型
const (
	TypeRoomCreated  = "room_created"
	TypeRoomJoined   = "room_joined"
	TypeRoomLeft     = "room_left"
	TypeRoomClosed   = "room_closed"
	TypePlayerJoined = "player_joined"
	TypePlayerLeft   = "player_left"
	TypeGameStarted  = "game_started"
	TypeLevelChanged = "level_changed"
	TypeGameUpdate   = "game_update"
	TypeError        = "error"
	TypePong         = "pong"
)

// 旧版客户端使用的消息名
var legacyTypes = map[string]string{
	"player":          TypePlayerUpdate,
	"key":             TypeKeyInput,
	"startGame":       TypeStartGame,
	"broadcast":       TypeHostBroadcast,
	"start_broadcast": TypeHostBroadcast,
}

// ErrUnknownIntent 未识别的 type，记录后丢弃
var ErrUnknownIntent = errors.New("unknown intent")

// Intent 入站意图（带类型的载荷）
type Intent interface {
	intent() string
}

// Inbound 解码后的入站记录
// 示例：{"type":"join_room","room_id":"FIRE","username":"Alice"}
type Inbound struct {
	Type     string
	PlayerID PlayerID // 客户端携带的 player_id，用于重连
	Username string
	Intent   Intent
}

type CreateRoom struct {
	RoomID string `json:"room_id,omitempty"` // 可选：指定房间号
}

type JoinRoom struct {
	RoomID string `json:"room_id"`
}

type LeaveRoom struct{}

type StartGame struct{}

// PositionPatch 坐标的部分更新
type PositionPatch struct {
	X *float64 `json:"x"`
	Y *float64 `json:"y"`
}

// PlayerUpdate 玩家状态的部分更新，nil 表示载荷中未出现
type PlayerUpdate struct {
	Position  *PositionPatch  `json:"position"`
	Direction *int            `json:"direction"`
	Frame     *string         `json:"frame"`
	Scale     *float64        `json:"scale"`
	Ready     *bool           `json:"ready"`
	Dead      *bool           `json:"dead"`
	Keys      map[string]bool `json:"keys"`
	Shields   map[string]bool `json:"shields"`
}

// KeyCode 按键码；兼容数字与字符串两种写法
type KeyCode string

func (k *KeyCode) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*k = KeyCode(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return err
	}
	*k = KeyCode(n.String())
	return nil
}

type KeyInput struct {
	Keycode KeyCode `json:"keycode"`
	Pressed bool    `json:"pressed"`
}

type SyncData struct {
	Data json.RawMessage `json:"sync_data"`
}

type LevelChange struct {
	Level string `json:"level"`
}

type HostBroadcast struct {
	Data json.RawMessage `json:"data"`
}

type Ping struct{}

func (CreateRoom) intent() string    { return TypeCreateRoom }
func (JoinRoom) intent() string      { return TypeJoinRoom }
func (LeaveRoom) intent() string     { return TypeLeaveRoom }
func (StartGame) intent() string     { return TypeStartGame }
func (PlayerUpdate) intent() string  { return TypePlayerUpdate }
func (KeyInput) intent() string      { return TypeKeyInput }
func (SyncData) intent() string      { return TypeSyncData }
func (LevelChange) intent() string   { return TypeLevelChange }
func (HostBroadcast) intent() string { return TypeHostBroadcast }
func (Ping) intent() string          { return TypePing }

// envelope 所有入站消息共有的字段（含旧版字段）
type envelope struct {
	Type     string          `json:"type"`
	PlayerID string          `json:"player_id"`
	Username string          `json:"username"`
	Role     string          `json:"role"`   // 旧版 join：host / client
	RoomID   string          `json:"roomId"` // 旧版 join
	Player   json.RawMessage `json:"player"` // 旧版 player：嵌套载荷
}

// DecodeInbound 将文本帧解码为带类型的意图。
// 结构错误返回包装了 ErrDecode 的错误；未知 type 返回 ErrUnknownIntent（Inbound.Type 仍有效）。
func DecodeInbound(raw []byte) (Inbound, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrDecode, err)
	}
	if env.Type == "" {
		return Inbound{}, fmt.Errorf("%w: missing type", ErrDecode)
	}

	in := Inbound{
		Type:     env.Type,
		PlayerID: PlayerID(env.PlayerID),
		Username: strings.TrimSpace(env.Username),
	}

	typ := env.Type
	if alias, ok := legacyTypes[typ]; ok {
		typ = alias
	}

	var err error
	switch typ {
	case "join":
		// 旧版：role=host 建房，否则加入
		if strings.EqualFold(env.Role, "host") {
			in.Intent = CreateRoom{RoomID: env.RoomID}
		} else {
			in.Intent = JoinRoom{RoomID: env.RoomID}
		}
	case TypeCreateRoom:
		var m CreateRoom
		err = json.Unmarshal(raw, &m)
		in.Intent = m
	case TypeJoinRoom:
		var m JoinRoom
		err = json.Unmarshal(raw, &m)
		in.Intent = m
	case TypeLeaveRoom:
		in.Intent = LeaveRoom{}
	case TypeStartGame:
		in.Intent = StartGame{}
	case TypePlayerUpdate:
		var m PlayerUpdate
		body := raw
		if env.Type == "player" && len(env.Player) > 0 {
			body = env.Player
		}
		err = json.Unmarshal(body, &m)
		in.Intent = m
	case TypeKeyInput:
		var m KeyInput
		if err = json.Unmarshal(raw, &m); err == nil && m.Keycode == "" {
			err = errors.New("missing keycode")
		}
		in.Intent = m
	case TypeSyncData:
		var m SyncData
		err = json.Unmarshal(raw, &m)
		in.Intent = m
	case TypeLevelChange:
		var m LevelChange
		if err = json.Unmarshal(raw, &m); err == nil && m.Level == "" {
			err = errors.New("missing level")
		}
		in.Intent = m
	case TypeHostBroadcast:
		var m HostBroadcast
		err = json.Unmarshal(raw, &m)
		in.Intent = m
	case TypePing:
		in.Intent = Ping{}
	default:
		return in, ErrUnknownIntent
	}
	if err != nil {
		return in, fmt.Errorf("%w: %s: %v", ErrDecode, env.Type, err)
	}
	return in, nil
}

// ---- 出站消息 ----

type RoomCreatedMessage struct {
	Type     string   `json:"type"`
	RoomID   string   `json:"room_id"`
	PlayerID PlayerID `json:"player_id"`
	Color    Color    `json:"color"`
}

type RoomJoinedMessage struct {
	Type        string   `json:"type"`
	RoomID      string   `json:"room_id"`
	PlayerID    PlayerID `json:"player_id"`
	Color       Color    `json:"color"`
	PlayerCount int      `json:"player_count"`
}

type RoomLeftMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
}

type RoomClosedMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"room_id"`
	Reason string `json:"reason"`
}

type PlayerJoinedMessage struct {
	Type        string     `json:"type"`
	Player      PlayerView `json:"player"`
	PlayerCount int        `json:"player_count"`
}

type PlayerLeftMessage struct {
	Type     string   `json:"type"`
	PlayerID PlayerID `json:"player_id"`
}

type GameStartedMessage struct {
	Type        string `json:"type"`
	PlayerCount int    `json:"player_count"`
}

type LevelChangedMessage struct {
	Type  string `json:"type"`
	Level string `json:"level"`
}

// GameUpdateMessage 周期快照；sync_data 仅在游戏开始后携带
type GameUpdateMessage struct {
	Type        string                  `json:"type"`
	RoomID      string                  `json:"room_id"`
	PlayerCount int                     `json:"player_count"`
	Started     bool                    `json:"started"`
	Level       string                  `json:"level"`
	Players     map[PlayerID]PlayerView `json:"players"`
	SyncData    json.RawMessage         `json:"sync_data,omitempty"`
}

type HostBroadcastMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type PongMessage struct {
	Type string `json:"type"`
}

// encode 序列化出站消息；失败只记录日志（出站结构均为本地类型，理论上不会失败）
func encode(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		Log.Errorw("encode outbound message", "error", err)
		return nil
	}
	return b
}
