package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	rotatelogs "github.com/lestrrat-go/file-rotatelogs"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/node-manager/pkg/config"
	"github.com/node-manager/pkg/goid"
)

type Logger = zap.Logger

var (
	mu               sync.RWMutex
	baseLogger       = zap.NewNop() // InitLogger 之前为 Nop，库代码和测试不会 panic
	defaultComponent = "manager"
)

// InitLogger 初始化全局日志：控制台彩色输出 + 按天切割的文件输出
func InitLogger(cfg *config.ZapLogConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	if err := os.MkdirAll(cfg.Path, 0755); err != nil {
		return nil, fmt.Errorf("create log dir %s: %w", cfg.Path, err)
	}

	writer, err := rotatelogs.New(
		filepath.Join(cfg.Path, "manager-%Y%m%d.log"),
		rotatelogs.WithLinkName(filepath.Join(cfg.Path, "manager.log")),
		rotatelogs.WithMaxAge(time.Duration(cfg.MaxAge)*24*time.Hour),
		rotatelogs.WithRotationTime(24*time.Hour),
		rotatelogs.WithRotationSize(int64(cfg.MaxSize)*1024*1024),
	)
	if err != nil {
		return nil, fmt.Errorf("create rotate writer: %w", err)
	}

	// 控制台彩色时间
	consoleTimeEncoder := func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("\033[34m%s\033[0m", t.Format("2006-01-02 15:04:05.000 -07:00")))
	}

	consoleEncoderCfg := zap.NewDevelopmentEncoderConfig()
	consoleEncoderCfg.ConsoleSeparator = " "
	consoleEncoderCfg.EncodeLevel = coloredLevelEncoder
	consoleEncoderCfg.EncodeTime = consoleTimeEncoder
	// Caller 两级路径
	consoleEncoderCfg.EncodeCaller = func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
		rel := filepath.Join(filepath.Base(filepath.Dir(c.File)), filepath.Base(c.File))
		enc.AppendString(fmt.Sprintf("%s:%d", rel, c.Line))
	}

	fileEncoderCfg := zap.NewProductionEncoderConfig()
	fileEncoderCfg.TimeKey = "timestamp"
	fileEncoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006-01-02 15:04:05.000 -07:00")
	fileEncoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder

	var fileEncoder zapcore.Encoder
	if cfg.Format == "console" {
		fileEncoder = zapcore.NewConsoleEncoder(fileEncoderCfg)
	} else {
		fileEncoder = zapcore.NewJSONEncoder(fileEncoderCfg)
	}

	core := zapcore.NewTee(
		zapcore.NewCore(zapcore.NewConsoleEncoder(consoleEncoderCfg), zapcore.AddSync(os.Stdout), level),
		zapcore.NewCore(fileEncoder, zapcore.AddSync(writer), level),
	)

	l := zap.New(core, zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))

	mu.Lock()
	baseLogger = l
	mu.Unlock()
	return l, nil
}

func coloredLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	var levelStr string
	switch level {
	case zapcore.DebugLevel:
		levelStr = "\033[36mDEBUG\033[0m"
	case zapcore.InfoLevel:
		levelStr = "\033[32mINFO \033[0m"
	case zapcore.WarnLevel:
		levelStr = "\033[33mWARN \033[0m"
	case zapcore.ErrorLevel:
		levelStr = "\033[31mERROR\033[0m"
	case zapcore.DPanicLevel, zapcore.PanicLevel, zapcore.FatalLevel:
		levelStr = "\033[35m" + level.CapitalString() + "\033[0m"
	default:
		levelStr = "UNK  "
	}
	enc.AppendString(levelStr)
}

// SetDefaultComponent 设置默认 component 字段（未显式指定时使用）
func SetDefaultComponent(component string) {
	mu.Lock()
	defer mu.Unlock()
	defaultComponent = component
}

func GetDefaultComponent() string {
	mu.RLock()
	defer mu.RUnlock()
	return defaultComponent
}

// Component 覆盖默认 component 字段
func Component(name string) zap.Field {
	return zap.String("component", name)
}

func withDefaults(fields []zap.Field) []zap.Field {
	hasComponent := false
	for _, f := range fields {
		if f.Key == "component" {
			hasComponent = true
			break
		}
	}
	out := make([]zap.Field, 0, len(fields)+2)
	if !hasComponent {
		out = append(out, Component(GetDefaultComponent()))
	}
	out = append(out, zap.String("goid", strconv.FormatUint(goid.GetGID(), 10)))
	return append(out, fields...)
}

func log(level zapcore.Level, msg string, fields ...zap.Field) {
	// 跳过 log 和 Debug/Info 等包装函数两层
	l := GetGlobalLogger().WithOptions(zap.AddCallerSkip(2))
	if ce := l.Check(level, msg); ce != nil {
		ce.Write(withDefaults(fields)...)
	}
}

func Debug(msg string, fields ...zap.Field) { log(zap.DebugLevel, msg, fields...) }
func Info(msg string, fields ...zap.Field)  { log(zap.InfoLevel, msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { log(zap.WarnLevel, msg, fields...) }
func Error(msg string, fields ...zap.Field) { log(zap.ErrorLevel, msg, fields...) }
func Panic(msg string, fields ...zap.Field) { log(zap.PanicLevel, msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { log(zap.FatalLevel, msg, fields...) }

// Sync 刷盘，程序退出前调用
func Sync() error {
	return GetGlobalLogger().Sync()
}

// GetGlobalLogger 获取全局实例（未初始化时为 Nop）
func GetGlobalLogger() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return baseLogger
}
