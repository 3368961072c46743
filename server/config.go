package server

import (
	"errors"
	"fmt"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	// MaxPlayers 每个房间的默认人数上限
	MaxPlayers = 6
	// DefaultTickRate 快照广播频率（Hz）
	DefaultTickRate = 30
)

// 房间号生成方式
const (
	RoomIDToken = "token" // 6 位大写字母数字
	RoomIDWord  = "word"  // 固定词表，冲突时重试
)

// LogConfig 日志输出配置
type LogConfig struct {
	File       string `yaml:"file"`
	Level      string `yaml:"level"`
	Stdout     bool   `yaml:"stdout"` // 同时输出到控制台
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

// Config 服务配置：默认值 → YAML 文件 → 命令行/环境变量，逐层覆盖
type Config struct {
	Addr      string `yaml:"addr"`
	StaticDir string `yaml:"static_dir"`
	PublicURL string `yaml:"public_url"` // 二维码中的加入链接前缀

	TickRate    int `yaml:"tick_rate"`
	TickWorkers int `yaml:"tick_workers"` // 每次 Tick 并行处理的房间数上限

	MaxPlayers           int    `yaml:"max_players"`
	RoomIDStyle          string `yaml:"room_id_style"`
	RejectJoinAfterStart bool   `yaml:"reject_join_after_start"`

	SendQueue       int           `yaml:"send_queue"`
	WriteWait       time.Duration `yaml:"write_wait"`
	PongWait        time.Duration `yaml:"pong_wait"`
	MaxMessageBytes int64         `yaml:"max_message_bytes"`

	Log LogConfig `yaml:"log"`
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		Addr:                 ":8765",
		PublicURL:            "http://localhost:8765",
		TickRate:             DefaultTickRate,
		TickWorkers:          16,
		MaxPlayers:           MaxPlayers,
		RoomIDStyle:          RoomIDToken,
		RejectJoinAfterStart: true,
		SendQueue:            64,
		WriteWait:            5 * time.Second,
		PongWait:             60 * time.Second,
		MaxMessageBytes:      1 << 20,
		Log: LogConfig{
			File:       "app.log",
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// LoadConfig 读取 YAML 配置；path 为空时返回默认配置
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate 检查配置取值
func (c Config) Validate() error {
	var errs []error
	if c.TickRate <= 0 || c.TickRate > 240 {
		errs = append(errs, fmt.Errorf("tick_rate must be in 1..240, got %d", c.TickRate))
	}
	if c.TickWorkers <= 0 {
		errs = append(errs, fmt.Errorf("tick_workers must be positive, got %d", c.TickWorkers))
	}
	if c.MaxPlayers <= 0 {
		errs = append(errs, fmt.Errorf("max_players must be positive, got %d", c.MaxPlayers))
	}
	if c.RoomIDStyle != RoomIDToken && c.RoomIDStyle != RoomIDWord {
		errs = append(errs, fmt.Errorf("room_id_style must be %q or %q, got %q", RoomIDToken, RoomIDWord, c.RoomIDStyle))
	}
	if c.SendQueue <= 0 {
		errs = append(errs, fmt.Errorf("send_queue must be positive, got %d", c.SendQueue))
	}
	if c.WriteWait <= 0 || c.PongWait <= 0 {
		errs = append(errs, errors.New("write_wait and pong_wait must be positive"))
	}
	if _, err := zapcore.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	return errors.Join(errs...)
}

// TickInterval 广播周期
func (c Config) TickInterval() time.Duration {
	return time.Second / time.Duration(c.TickRate)
}

// PingPeriod 发送 ping 的周期，须小于 PongWait
func (c Config) PingPeriod() time.Duration {
	return c.PongWait * 9 / 10
}
