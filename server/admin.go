package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/skip2/go-qrcode"
)

// qrSize 加入二维码的边长（像素）
const qrSize = 256

// Admin 管理与监控接口
type Admin struct {
	cfg   Config
	reg   *Registry
	sched *Scheduler
	stats *Metrics
}

func NewAdmin(cfg Config, reg *Registry, sched *Scheduler, stats *Metrics) *Admin {
	return &Admin{cfg: cfg, reg: reg, sched: sched, stats: stats}
}

// Register 挂载管理路由
func (a *Admin) Register(mux *http.ServeMux) {
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})
	mux.HandleFunc("/admin/config", a.HandleConfig)
	mux.HandleFunc("GET /metrics", a.HandleMetrics)
	mux.HandleFunc("GET /rooms", a.HandleRooms)
	mux.HandleFunc("GET /rooms/{id}", a.HandleRoom)
	mux.HandleFunc("GET /rooms/{id}/qr", a.HandleRoomQR)
}

// runtimeConfig 可热更新的字段
type runtimeConfig struct {
	TickRate             *int  `json:"tick_rate,omitempty"`
	RejectJoinAfterStart *bool `json:"reject_join_after_start,omitempty"`
}

// HandleConfig 运行期配置的读取与更新（热更新）
// GET /admin/config  返回当前配置
// POST /admin/config 以 JSON 载荷更新部分字段
func (a *Admin) HandleConfig(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		rate := int(1e9 / a.sched.Interval().Nanoseconds())
		reject := a.reg.RejectJoinAfterStart()
		writeJSON(w, http.StatusOK, runtimeConfig{TickRate: &rate, RejectJoinAfterStart: &reject})
		return
	case http.MethodPost:
		var body runtimeConfig
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			http.Error(w, "invalid json", http.StatusBadRequest)
			return
		}
		if body.TickRate != nil {
			if *body.TickRate <= 0 || *body.TickRate > 240 {
				http.Error(w, "tick_rate must be in 1..240", http.StatusBadRequest)
				return
			}
			a.sched.SetRate(*body.TickRate)
		}
		if body.RejectJoinAfterStart != nil {
			a.reg.SetRejectJoinAfterStart(*body.RejectJoinAfterStart)
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		Log.Infow("runtime config updated", "interval", a.sched.Interval(), "reject_join_after_start", a.reg.RejectJoinAfterStart())
		return
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
}

// HandleMetrics 输出服务运行指标
// GET /metrics
func (a *Admin) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	payload := map[string]any{
		"rooms":   a.reg.Len(),
		"metrics": a.stats.Snapshot(),
	}
	writeJSON(w, http.StatusOK, payload)
}

// HandleRooms 列出所有房间
// GET /rooms
func (a *Admin) HandleRooms(w http.ResponseWriter, r *http.Request) {
	rooms := a.reg.Rooms()
	infos := make([]RoomInfo, 0, len(rooms))
	for _, rm := range rooms {
		info, err := rm.Info()
		if err != nil {
			continue
		}
		infos = append(infos, info)
	}
	writeJSON(w, http.StatusOK, infos)
}

// HandleRoom 单个房间详情
// GET /rooms/{id}
func (a *Admin) HandleRoom(w http.ResponseWriter, r *http.Request) {
	rm := a.reg.Room(r.PathValue("id"))
	if rm == nil {
		writeError(w, http.StatusNotFound, ErrRoomNotFound)
		return
	}
	info, err := rm.Info()
	if err != nil {
		writeError(w, http.StatusNotFound, ErrRoomNotFound)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

// HandleRoomQR 返回加入房间链接的二维码 PNG
// GET /rooms/{id}/qr
func (a *Admin) HandleRoomQR(w http.ResponseWriter, r *http.Request) {
	rm := a.reg.Room(r.PathValue("id"))
	if rm == nil || rm.Closed() {
		writeError(w, http.StatusNotFound, ErrRoomNotFound)
		return
	}
	png, err := qrcode.Encode(a.JoinURL(rm.ID), qrcode.Medium, qrSize)
	if err != nil {
		Log.Errorw("qr encode failed", "room", rm.ID, "error", err)
		http.Error(w, "qr encode failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(png)
}

// JoinURL 手机扫码后打开的加入链接
func (a *Admin) JoinURL(roomID string) string {
	return strings.TrimRight(a.cfg.PublicURL, "/") + "/?room=" + roomID
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	msg := ErrorMessage{Type: TypeError, Code: CodeDecode, Message: err.Error()}
	var ge *GameError
	if errors.As(err, &ge) {
		msg.Code, msg.Message = ge.Code, ge.Message
	}
	writeJSON(w, status, msg)
}
