package server

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Conn 房间与会话发送消息所需的最小连接能力。
// Send 不得阻塞：队列满或连接已关闭时立即返回错误，调用方视同断线。
type Conn interface {
	Send(b []byte) error
	Close() error
}

// ClientConn 负责发送（写）数据到客户端的轻量包装
type ClientConn struct {
	ws         *websocket.Conn
	send       chan []byte
	closed     chan struct{}
	closeOnce  sync.Once
	writeWait  time.Duration
	pongWait   time.Duration
	pingPeriod time.Duration
	readLimit  int64
}

func NewClientConn(ws *websocket.Conn, cfg Config) *ClientConn {
	return &ClientConn{
		ws:         ws,
		send:       make(chan []byte, cfg.SendQueue),
		closed:     make(chan struct{}),
		writeWait:  cfg.WriteWait,
		pongWait:   cfg.PongWait,
		pingPeriod: cfg.PingPeriod(),
		readLimit:  cfg.MaxMessageBytes,
	}
}

// Send 将消息压入发送队列（非阻塞）。队列满返回 ErrSendQueueFull，已关闭返回 ErrConnClosed。
func (c *ClientConn) Send(b []byte) error {
	select {
	case <-c.closed:
		return ErrConnClosed
	default:
	}
	select {
	case c.send <- b:
		return nil
	default:
		return ErrSendQueueFull
	}
}

// Close 标记连接关闭；写协程发出 close 帧后关闭底层连接。可重复调用。
func (c *ClientConn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
	})
	return nil
}

// writePump 独立协程，负责从 send 队列写出到 WS，并定期发送 ping
func (c *ClientConn) writePump() {
	ticker := time.NewTicker(c.pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.ws.Close()
	}()
	for {
		select {
		case msg := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				_ = c.Close()
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				_ = c.Close()
				return
			}
		case <-c.closed:
			_ = c.ws.SetWriteDeadline(time.Now().Add(c.writeWait))
			_ = c.ws.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump 按到达顺序把文本帧交给会话；退出时执行一次断线清理
func (c *ClientConn) readPump(s *Session) {
	defer func() {
		s.Close()
		_ = c.Close()
		_ = c.ws.Close()
	}()
	c.ws.SetReadLimit(c.readLimit)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.pongWait))
	})

	for {
		mt, payload, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				Log.Debugw("websocket read error", "player", s.playerID(), "error", err)
			}
			return
		}
		if mt != websocket.TextMessage {
			continue
		}
		s.Handle(payload)
	}
}

// WSHandler WebSocket 接入点，每个连接对应一个 Session
type WSHandler struct {
	cfg      Config
	reg      *Registry
	stats    *Metrics
	upgrader websocket.Upgrader
}

func NewWSHandler(cfg Config, reg *Registry, stats *Metrics) *WSHandler {
	return &WSHandler{
		cfg:   cfg,
		reg:   reg,
		stats: stats,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				// 浏览器客户端可能由任意来源加载（含二维码打开的手机页面）
				return true
			},
		},
	}
}

// ServeHTTP 升级连接并启动读写协程；玩家身份由第一条消息确定
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		Log.Warnw("websocket upgrade failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	Log.Debugw("websocket connected", "remote", r.RemoteAddr)

	client := NewClientConn(ws, h.cfg)
	sess := NewSession(h.reg, client, h.stats)

	go client.writePump()
	go client.readPump(sess)
}
