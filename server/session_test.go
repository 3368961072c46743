package server

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testClient struct {
	sess *Session
	conn *fakeConn
}

func newTestClient(reg *Registry) *testClient {
	c := &fakeConn{}
	return &testClient{sess: NewSession(reg, c, reg.stats), conn: c}
}

func (c *testClient) send(format string, args ...any) {
	c.sess.Handle([]byte(fmt.Sprintf(format, args...)))
}

// hostRoom 让客户端建房并返回房间号
func hostRoom(t *testing.T, c *testClient) string {
	t.Helper()
	c.send(`{"type":"create_room","username":"Host"}`)
	msg := c.conn.last(t, TypeRoomCreated)
	id, ok := msg["room_id"].(string)
	require.True(t, ok)
	return id
}

func TestSession_CreateAndJoin(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)

	roomID := hostRoom(t, host)
	created := host.conn.last(t, TypeRoomCreated)
	assert.Equal(t, "red", created["color"])
	assert.Equal(t, string(host.sess.Player().ID), created["player_id"])
	assert.Equal(t, "Host", host.sess.Player().Username)

	guest.send(`{"type":"join_room","room_id":"%s","username":"Guest"}`, roomID)
	joined := guest.conn.last(t, TypeRoomJoined)
	assert.Equal(t, roomID, joined["room_id"])
	assert.Equal(t, "blue", joined["color"])
	assert.EqualValues(t, 2, joined["player_count"])

	pj := host.conn.last(t, TypePlayerJoined)
	player, ok := pj["player"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "Guest", player["username"])
}

func TestSession_RejectionsAreUnicast(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, reg *Registry, host *testClient) string
		message  func(roomID string) string
		wantCode string
	}{
		{
			name:     "join unknown room",
			setup:    func(t *testing.T, reg *Registry, host *testClient) string { return "" },
			message:  func(string) string { return `{"type":"join_room","room_id":"NOPE42"}` },
			wantCode: CodeRoomNotFound,
		},
		{
			name: "join full room",
			setup: func(t *testing.T, reg *Registry, host *testClient) string {
				id := hostRoom(t, host)
				for i := 1; i < MaxPlayers; i++ {
					newTestClient(reg).send(`{"type":"join_room","room_id":"%s"}`, id)
				}
				return id
			},
			message:  func(id string) string { return fmt.Sprintf(`{"type":"join_room","room_id":"%s"}`, id) },
			wantCode: CodeRoomFull,
		},
		{
			name: "join after start",
			setup: func(t *testing.T, reg *Registry, host *testClient) string {
				id := hostRoom(t, host)
				host.send(`{"type":"start_game"}`)
				return id
			},
			message:  func(id string) string { return fmt.Sprintf(`{"type":"join_room","room_id":"%s"}`, id) },
			wantCode: CodeGameStarted,
		},
		{
			name: "duplicate requested id",
			setup: func(t *testing.T, reg *Registry, host *testClient) string {
				host.send(`{"type":"create_room","room_id":"MOON"}`)
				return "MOON"
			},
			message:  func(string) string { return `{"type":"create_room","room_id":"moon"}` },
			wantCode: CodeDuplicateRoom,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			host := newTestClient(reg)
			id := tt.setup(t, reg, host)
			host.conn.reset()

			c := newTestClient(reg)
			c.sess.Handle([]byte(tt.message(id)))
			assert.Equal(t, tt.wantCode, c.conn.last(t, TypeError)["code"])
			assert.Equal(t, 0, host.conn.count(t, TypeError), "错误只回给发送者")
		})
	}
}

func TestSession_StartGame(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)
	roomID := hostRoom(t, host)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomID)

	guest.send(`{"type":"start_game"}`)
	assert.Equal(t, CodeUnauthorized, guest.conn.last(t, TypeError)["code"])
	assert.Equal(t, 0, host.conn.count(t, TypeGameStarted))

	host.send(`{"type":"startGame"}`)
	assert.Equal(t, 1, host.conn.count(t, TypeGameStarted))
	assert.Equal(t, 1, guest.conn.count(t, TypeGameStarted))
}

func TestSession_CreateWhileHosting(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	hostRoom(t, host)

	host.send(`{"type":"create_room"}`)
	assert.Equal(t, CodeAlreadyHosting, host.conn.last(t, TypeError)["code"])
	assert.Equal(t, 1, reg.Len())
}

func TestSession_JoinOtherRoomLeavesPrevious(t *testing.T) {
	reg := newTestRegistry(t)
	a := newTestClient(reg)
	b := newTestClient(reg)
	guest := newTestClient(reg)
	roomA := hostRoom(t, a)
	roomB := hostRoom(t, b)

	guest.send(`{"type":"join_room","room_id":"%s"}`, roomA)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomB)

	assert.Equal(t, roomB, reg.RoomOf(guest.sess.Player().ID).ID)
	assert.Equal(t, 1, a.conn.count(t, TypePlayerLeft))
	info, err := reg.Room(roomA).Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.PlayerCount)
}

func TestSession_FailedJoinKeepsCurrentRoom(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(t *testing.T, reg *Registry) string
		wantCode string
	}{
		{
			name:     "unknown room",
			setup:    func(t *testing.T, reg *Registry) string { return "NOPE42" },
			wantCode: CodeRoomNotFound,
		},
		{
			name: "full room",
			setup: func(t *testing.T, reg *Registry) string {
				id := hostRoom(t, newTestClient(reg))
				for i := 1; i < MaxPlayers; i++ {
					newTestClient(reg).send(`{"type":"join_room","room_id":"%s"}`, id)
				}
				return id
			},
			wantCode: CodeRoomFull,
		},
		{
			name: "started room",
			setup: func(t *testing.T, reg *Registry) string {
				other := newTestClient(reg)
				id := hostRoom(t, other)
				other.send(`{"type":"start_game"}`)
				return id
			},
			wantCode: CodeGameStarted,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			host := newTestClient(reg)
			guest := newTestClient(reg)
			roomA := hostRoom(t, host)
			guest.send(`{"type":"join_room","room_id":"%s"}`, roomA)
			target := tt.setup(t, reg)
			guest.conn.reset()

			// 房主请求失败时原房间保持不变
			host.send(`{"type":"join_room","room_id":"%s"}`, target)
			assert.Equal(t, tt.wantCode, host.conn.last(t, TypeError)["code"])

			assert.Equal(t, 0, guest.conn.count(t, TypeRoomClosed))
			assert.Equal(t, 0, guest.conn.count(t, TypePlayerLeft))
			require.NotNil(t, reg.Room(roomA))
			assert.Equal(t, roomA, reg.RoomOf(host.sess.Player().ID).ID)
			assert.Equal(t, roomA, reg.RoomOf(guest.sess.Player().ID).ID)
			info, err := reg.Room(roomA).Info()
			require.NoError(t, err)
			assert.Equal(t, 2, info.PlayerCount)
			assert.Equal(t, host.sess.Player().ID, info.HostID)
		})
	}
}

func TestSession_FailedCreateKeepsCurrentRoom(t *testing.T) {
	tests := []struct {
		name     string
		roomID   string
		wantCode string
	}{
		{"taken id", "moon", CodeDuplicateRoom},
		{"invalid id", "no-dashes", CodeInvalidRoomID},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			reg := newTestRegistry(t)
			newTestClient(reg).send(`{"type":"create_room","room_id":"MOON"}`)
			host := newTestClient(reg)
			member := newTestClient(reg)
			roomA := hostRoom(t, host)
			member.send(`{"type":"join_room","room_id":"%s"}`, roomA)
			host.conn.reset()

			member.send(`{"type":"create_room","room_id":"%s"}`, tt.roomID)
			assert.Equal(t, tt.wantCode, member.conn.last(t, TypeError)["code"])

			// 成员仍留在原房间，房主没有收到离开通知
			assert.Equal(t, 0, host.conn.count(t, TypePlayerLeft))
			assert.Equal(t, roomA, reg.RoomOf(member.sess.Player().ID).ID)
			info, err := reg.Room(roomA).Info()
			require.NoError(t, err)
			assert.Equal(t, 2, info.PlayerCount)
			assert.Equal(t, 2, reg.Len())
		})
	}
}

func TestSession_CreateFromOtherRoomLeavesIt(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	member := newTestClient(reg)
	roomA := hostRoom(t, host)
	member.send(`{"type":"join_room","room_id":"%s"}`, roomA)

	member.send(`{"type":"create_room","room_id":"STAR"}`)
	assert.Equal(t, "STAR", member.conn.last(t, TypeRoomCreated)["room_id"])
	assert.Equal(t, "STAR", reg.RoomOf(member.sess.Player().ID).ID)
	assert.Equal(t, 1, host.conn.count(t, TypePlayerLeft))

	info, err := reg.Room(roomA).Info()
	require.NoError(t, err)
	assert.Equal(t, 1, info.PlayerCount)
}

func TestSession_MalformedAndUnknownDropped(t *testing.T) {
	reg := newTestRegistry(t)
	c := newTestClient(reg)

	c.send(`{not json`)
	c.send(`{"type":"dance"}`)
	c.send(`{"type":"key_input","pressed":true}`)

	assert.Nil(t, c.sess.Player(), "无效消息不创建玩家")
	assert.Empty(t, c.conn.decoded(t))
	assert.EqualValues(t, 2, reg.stats.DecodeErrors)
	assert.EqualValues(t, 1, reg.stats.UnknownIntents)

	// 之后的有效消息照常处理
	c.send(`{"type":"ping"}`)
	assert.Equal(t, 1, c.conn.count(t, TypePong))
	assert.NotNil(t, c.sess.Player())
}

func TestSession_RoomIntentsWithoutRoomIgnored(t *testing.T) {
	reg := newTestRegistry(t)
	c := newTestClient(reg)

	c.send(`{"type":"player_update","ready":true}`)
	c.send(`{"type":"start_game"}`)
	c.send(`{"type":"level_change","level":"two"}`)
	c.send(`{"type":"leave_room"}`)

	assert.Empty(t, c.conn.decoded(t))
}

func TestSession_PlayerUpdateAdvancesLevel(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)
	roomID := hostRoom(t, host)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomID)
	host.send(`{"type":"start_game"}`)

	host.send(`{"type":"player_update","ready":true,"position":{"x":80}}`)
	assert.Equal(t, 0, guest.conn.count(t, TypeLevelChanged))
	guest.send(`{"type":"player","player":{"ready":true}}`)

	assert.Equal(t, "two", host.conn.last(t, TypeLevelChanged)["level"])
	assert.Equal(t, "two", guest.conn.last(t, TypeLevelChanged)["level"])
	assert.EqualValues(t, 1, reg.stats.LevelsAdvanced)
}

func TestSession_HostSyncAndBroadcast(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)
	roomID := hostRoom(t, host)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomID)

	guest.send(`{"type":"host_broadcast","data":{"x":1}}`)
	assert.Equal(t, CodeUnauthorized, guest.conn.last(t, TypeError)["code"])

	host.send(`{"type":"broadcast","data":{"x":1}}`)
	assert.Equal(t, 1, guest.conn.count(t, TypeHostBroadcast))
	assert.Equal(t, 0, host.conn.count(t, TypeHostBroadcast))

	host.send(`{"type":"level_change","level":"bonusStage"}`)
	assert.Equal(t, "bonusStage", guest.conn.last(t, TypeLevelChanged)["level"])
}

func TestSession_LeaveRoom(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)
	roomID := hostRoom(t, host)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomID)

	guest.send(`{"type":"leave_room"}`)
	assert.Equal(t, roomID, guest.conn.last(t, TypeRoomLeft)["room_id"])
	assert.Equal(t, 1, host.conn.count(t, TypePlayerLeft))

	host.send(`{"type":"leave_room"}`)
	assert.Equal(t, 0, reg.Len())
}

func TestSession_CloseRunsOnce(t *testing.T) {
	reg := newTestRegistry(t)
	host := newTestClient(reg)
	guest := newTestClient(reg)
	roomID := hostRoom(t, host)
	guest.send(`{"type":"join_room","room_id":"%s"}`, roomID)

	guest.sess.Close()
	guest.sess.Close()
	assert.Equal(t, 1, host.conn.count(t, TypePlayerLeft))

	host.sess.Close()
	assert.Equal(t, 0, reg.Len())

	// 从未发送有效消息的会话关闭是空操作
	newTestClient(reg).sess.Close()
}

func TestSession_ReconnectTakesOver(t *testing.T) {
	reg := newTestRegistry(t)
	first := newTestClient(reg)
	roomID := hostRoom(t, first)
	id := first.sess.Player().ID

	second := newTestClient(reg)
	second.send(`{"type":"ping","player_id":"%s"}`, id)
	assert.True(t, first.conn.isClosed())
	assert.Same(t, first.sess.Player(), second.sess.Player())
	assert.EqualValues(t, 1, reg.stats.Reconnects)

	// 旧连接的断线清理不会让房主离开
	first.sess.Close()
	require.NotNil(t, reg.Room(roomID))

	second.send(`{"type":"start_game"}`)
	assert.Equal(t, 1, second.conn.count(t, TypeGameStarted))
	assert.Equal(t, 0, second.conn.count(t, TypeError))
}
