package logger_test

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/logger"
)

// fatalHook 捕获 fatal 日志（不退出进程）
type fatalHook struct {
	called bool
}

func (h *fatalHook) OnWrite(*zapcore.CheckedEntry, []zapcore.Field) {
	h.called = true
}

func TestLoggerBeforeInitIsNop(t *testing.T) {
	// 未初始化时不能 panic
	logger.Info("before init")
	if err := logger.Sync(); err != nil {
		t.Fatalf("sync nop logger: %v", err)
	}
}

func TestLoggerLevels(t *testing.T) {
	dir := t.TempDir()
	cfg := &config.ZapLogConfig{
		Level:   "debug",
		Format:  "json",
		Path:    dir,
		MaxSize: 10,
		MaxAge:  1,
	}

	_, err := logger.InitLogger(cfg)
	if err != nil {
		t.Fatalf("InitLogger failed: %v", err)
	}

	logger.SetDefaultComponent("test")
	logger.Debug("debug msg")
	logger.Info("info msg", logger.Component("series"))
	logger.Warn("warn msg", zap.Int("n", 1))
	logger.Error("error msg")

	// Panic 测试
	func() {
		defer func() {
			if r := recover(); r == nil {
				t.Errorf("expected panic, but no panic occurred")
			}
		}()
		logger.Panic("panic msg")
	}()

	// Fatal 测试（替换 fatal hook，不触发 os.Exit）
	hook := &fatalHook{}
	l := logger.GetGlobalLogger().WithOptions(zap.WithFatalHook(hook))
	l.Fatal("fatal msg")
	if !hook.called {
		t.Errorf("fatal hook was not triggered")
	}

	if err := logger.Sync(); err != nil {
		t.Logf("sync: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "manager-*.log"))
	if err != nil || len(matches) == 0 {
		t.Fatalf("expected a rotated log file in %s, got %v (%v)", dir, matches, err)
	}
	info, err := os.Stat(matches[0])
	if err != nil || info.Size() == 0 {
		t.Fatalf("log file is empty: %v", err)
	}
}

func TestInitLoggerRejectsBadLevel(t *testing.T) {
	_, err := logger.InitLogger(&config.ZapLogConfig{Level: "loud", Path: t.TempDir(), MaxSize: 1, MaxAge: 1})
	if err == nil {
		t.Fatal("expected error for unknown level")
	}
}
