// Package logger 提供进程级 slog 实例：printf 风格的便捷函数用于启动/运维日志，
// With 返回带 component 的结构化 logger 用于交易链路事件。
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"sync/atomic"
)

type sink struct {
	w      io.Writer
	asJSON bool
}

var (
	levelVar slog.LevelVar
	current  atomic.Pointer[slog.Logger]

	sinkMu sync.Mutex
	active = sink{w: os.Stdout}
)

func init() {
	current.Store(active.build())
}

func (s sink) build() *slog.Logger {
	w := s.w
	if w == nil {
		w = os.Stdout
	}
	opts := &slog.HandlerOptions{Level: &levelVar}
	if s.asJSON {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

func reconfigure(fn func(*sink)) {
	sinkMu.Lock()
	defer sinkMu.Unlock()
	fn(&active)
	current.Store(active.build())
}

// SetOutput 替换日志输出目标，保留当前格式。
func SetOutput(w io.Writer) {
	reconfigure(func(s *sink) { s.w = w })
}

// SetFormat 切换 text / json 输出。
func SetFormat(format string) {
	reconfigure(func(s *sink) {
		s.asJSON = strings.EqualFold(strings.TrimSpace(format), "json")
	})
}

// SetLevel 接受 debug/info/warn(ing)/error，无法识别时回落到 info。
func SetLevel(level string) {
	level = strings.ToLower(strings.TrimSpace(level))
	if level == "warning" {
		level = "warn"
	}
	var lv slog.Level
	if err := lv.UnmarshalText([]byte(level)); err != nil {
		lv = slog.LevelInfo
	}
	levelVar.Set(lv)
}

// With 返回带 component 字段的结构化 logger，用于状态迁移类事件。
func With(component string, args ...any) *slog.Logger {
	l := current.Load()
	if component != "" {
		l = l.With("component", component)
	}
	if len(args) > 0 {
		l = l.With(args...)
	}
	return l
}

func logf(level slog.Level, format string, v ...any) {
	current.Load().Log(context.Background(), level, fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { logf(slog.LevelDebug, format, v...) }
func Infof(format string, v ...any)  { logf(slog.LevelInfo, format, v...) }
func Warnf(format string, v ...any)  { logf(slog.LevelWarn, format, v...) }
func Errorf(format string, v ...any) { logf(slog.LevelError, format, v...) }

// InfoBlock 逐行输出多行文本（启动摘要等）。
func InfoBlock(block string) {
	block = strings.TrimSpace(block)
	if block == "" {
		return
	}
	for _, line := range strings.Split(block, "\n") {
		Infof("%s", line)
	}
}
