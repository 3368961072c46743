package server

import (
	"encoding/json"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

// fakeConn 记录收到的消息；fail=true 时模拟发送队列已满
type fakeConn struct {
	mu     sync.Mutex
	msgs   [][]byte
	fail   bool
	closed bool
}

func (c *fakeConn) Send(b []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrConnClosed
	}
	if c.fail {
		return ErrSendQueueFull
	}
	c.msgs = append(c.msgs, append([]byte(nil), b...))
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeConn) setFail(v bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fail = v
}

func (c *fakeConn) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// decoded 按顺序返回所有消息
func (c *fakeConn) decoded(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]map[string]any, 0, len(c.msgs))
	for _, b := range c.msgs {
		var m map[string]any
		require.NoError(t, json.Unmarshal(b, &m))
		out = append(out, m)
	}
	return out
}

// count 指定类型的消息数
func (c *fakeConn) count(t *testing.T, typ string) int {
	t.Helper()
	n := 0
	for _, m := range c.decoded(t) {
		if m["type"] == typ {
			n++
		}
	}
	return n
}

// last 指定类型的最后一条消息；不存在时测试失败
func (c *fakeConn) last(t *testing.T, typ string) map[string]any {
	t.Helper()
	msgs := c.decoded(t)
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i]["type"] == typ {
			return msgs[i]
		}
	}
	require.Failf(t, "message not found", "no %q message in %v", typ, msgs)
	return nil
}

func (c *fakeConn) reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = nil
}

// newTestRegistry 以默认配置创建注册表，测试结束时关闭所有房间
func newTestRegistry(t *testing.T, mutate ...func(*Config)) *Registry {
	t.Helper()
	cfg := DefaultConfig()
	for _, m := range mutate {
		m(&cfg)
	}
	reg := NewRegistry(cfg, &Metrics{})
	t.Cleanup(reg.Shutdown)
	return reg
}

// newTestRoom 创建一个 n 人房间，第一个玩家为房主
func newTestRoom(t *testing.T, reg *Registry, n int) (*Room, []*Player, []*fakeConn) {
	t.Helper()
	players := make([]*Player, 0, n)
	conns := make([]*fakeConn, 0, n)
	var room *Room
	for i := 0; i < n; i++ {
		c := &fakeConn{}
		p, _ := reg.Attach("", fmt.Sprintf("P%d", i+1), c)
		if i == 0 {
			r, _, err := reg.CreateRoom(p, "")
			require.NoError(t, err)
			room = r
		} else {
			_, _, err := reg.JoinRoom(room.ID, p)
			require.NoError(t, err)
		}
		players = append(players, p)
		conns = append(conns, c)
	}
	return room, players, conns
}

func ptr[T any](v T) *T { return &v }
