package server

import (
	"errors"
	"sync"
)

// Session 单个连接的消息分派器。
// Handle 与 Close 由该连接的读协程顺序调用，同一连接的消息按到达顺序处理。
type Session struct {
	reg   *Registry
	conn  Conn
	stats *Metrics

	player    *Player
	closeOnce sync.Once
}

// NewSession 为连接创建分派器；玩家在收到第一条有效消息时创建（或按 player_id 接管）
func NewSession(reg *Registry, conn Conn, stats *Metrics) *Session {
	return &Session{reg: reg, conn: conn, stats: stats}
}

// Player 返回会话绑定的玩家，尚未收到有效消息时为 nil
func (s *Session) Player() *Player { return s.player }

// Handle 解码并处理一条入站文本帧。任何错误只影响本连接，不会中断连接。
func (s *Session) Handle(raw []byte) {
	in, err := DecodeInbound(raw)
	switch {
	case errors.Is(err, ErrUnknownIntent):
		s.stats.incUnknownIntents()
		Log.Warnw("unknown message type", "type", in.Type, "player", s.playerID())
		return
	case err != nil:
		s.stats.incDecodeErrors()
		Log.Warnw("drop malformed message", "error", err, "player", s.playerID())
		return
	}

	if s.player == nil {
		p, resumed := s.reg.Attach(in.PlayerID, in.Username, s.conn)
		s.player = p
		Log.Infow("player connected", "player", p.ID, "username", p.Username, "resumed", resumed)
	}

	s.stats.incMessagesHandled()
	if err := s.dispatch(in); err != nil {
		s.reject(in.Type, err)
	}
}

// Close 断线清理，无论连接处于空闲还是处理中都只执行一次
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		if s.player == nil {
			return
		}
		if s.reg.Detach(s.player, s.conn) {
			Log.Infow("player disconnected", "player", s.player.ID)
		}
	})
}

func (s *Session) dispatch(in Inbound) error {
	switch m := in.Intent.(type) {
	case CreateRoom:
		return s.createRoom(m)
	case JoinRoom:
		return s.joinRoom(m)
	case LeaveRoom:
		return s.leaveRoom()
	case Ping:
		s.send(PongMessage{Type: TypePong})
		return nil
	}

	r := s.reg.RoomOf(s.player.ID)
	if r == nil {
		Log.Debugw("drop message outside room", "type", in.Type, "player", s.player.ID)
		return nil
	}

	switch m := in.Intent.(type) {
	case StartGame:
		if err := r.Start(s.player.ID); err != nil {
			return err
		}
		Log.Infow("game started", "room", r.ID, "host", s.player.ID)
	case PlayerUpdate:
		level, advanced, err := r.UpdatePlayer(s.player.ID, m)
		if err != nil {
			return ignoreGone(err)
		}
		if advanced {
			Log.Infow("all players ready, level advanced", "room", r.ID, "level", level)
		}
	case KeyInput:
		return ignoreGone(r.SetKey(s.player.ID, string(m.Keycode), m.Pressed))
	case SyncData:
		return r.SetSyncData(s.player.ID, m.Data)
	case LevelChange:
		if !KnownLevel(m.Level) {
			Log.Warnw("host set unknown level", "room", r.ID, "level", m.Level)
		}
		if err := r.ChangeLevel(s.player.ID, m.Level); err != nil {
			return err
		}
		Log.Infow("level changed by host", "room", r.ID, "level", m.Level)
	case HostBroadcast:
		return r.HostBroadcast(s.player.ID, m.Data)
	}
	return nil
}

func (s *Session) createRoom(m CreateRoom) error {
	if cur := s.reg.RoomOf(s.player.ID); cur != nil && cur.HostID() == s.player.ID {
		return ErrAlreadyHosting
	}
	// 仍在其他房间时由注册表在校验通过后再离开
	_, res, err := s.reg.CreateRoom(s.player, m.RoomID)
	if err != nil {
		return err
	}
	s.send(RoomCreatedMessage{
		Type:     TypeRoomCreated,
		RoomID:   res.RoomID,
		PlayerID: res.PlayerID,
		Color:    res.Color,
	})
	return nil
}

func (s *Session) joinRoom(m JoinRoom) error {
	_, res, err := s.reg.JoinRoom(m.RoomID, s.player)
	if err != nil {
		return err
	}
	s.send(RoomJoinedMessage{
		Type:        TypeRoomJoined,
		RoomID:      res.RoomID,
		PlayerID:    res.PlayerID,
		Color:       res.Color,
		PlayerCount: res.PlayerCount,
	})
	return nil
}

func (s *Session) leaveRoom() error {
	cur := s.reg.RoomOf(s.player.ID)
	if cur == nil {
		return nil
	}
	s.reg.LeaveRoom(cur.ID, s.player.ID)
	s.send(RoomLeftMessage{Type: TypeRoomLeft, RoomID: cur.ID})
	return nil
}

// reject 可回传的错误以 error 消息单播给发送者，其余只记录日志
func (s *Session) reject(typ string, err error) {
	msg := clientError(err)
	if msg == nil {
		Log.Debugw("request dropped", "type", typ, "player", s.playerID(), "error", err)
		return
	}
	s.stats.incRejected()
	Log.Infow("request rejected", "type", typ, "player", s.playerID(), "error", err)
	s.send(msg)
}

// send 单播；发送失败视同断线，关闭连接后由读协程完成清理
func (s *Session) send(v any) {
	b := encode(v)
	if b == nil {
		return
	}
	if err := s.conn.Send(b); err != nil {
		Log.Debugw("unicast failed, closing connection", "player", s.playerID(), "error", err)
		_ = s.conn.Close()
	}
}

func (s *Session) playerID() PlayerID {
	if s.player == nil {
		return ""
	}
	return s.player.ID
}

// ignoreGone 房间在途中被销毁时静默丢弃高频更新
func ignoreGone(err error) error {
	if errors.Is(err, ErrRoomClosed) || errors.Is(err, ErrRoomNotFound) {
		return nil
	}
	return err
}
