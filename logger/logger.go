package logger

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	globalLogger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	once         sync.Once
	closers      []io.Closer
)

type Config struct {
	Level   string   `json:"level" yaml:"level" mapstructure:"level"`       // debug/info/warn/error
	Format  string   `json:"format" yaml:"format" mapstructure:"format"`    // text/json
	Outputs []string `json:"outputs" yaml:"outputs" mapstructure:"outputs"` // stdout/stderr/file path
}

// ParseLevel 将配置字符串转换为 slog 级别，未知值按 info 处理
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// New 根据配置创建一个独立的 logger，不修改全局实例
func New(cfg Config) (*slog.Logger, []io.Closer, error) {
	var (
		writers []io.Writer
		files   []io.Closer
	)
	for _, output := range cfg.Outputs {
		switch output {
		case "", "stdout":
			writers = append(writers, os.Stdout)
		case "stderr":
			writers = append(writers, os.Stderr)
		default:
			// 确保目录存在
			if err := os.MkdirAll(filepath.Dir(output), 0755); err != nil {
				closeAll(files)
				return nil, nil, err
			}

			file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				closeAll(files)
				return nil, nil, err
			}
			writers = append(writers, file)
			files = append(files, file)
		}
	}

	// 如果没有指定输出，默认使用stdout
	if len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}
	return NewWithWriter(cfg, io.MultiWriter(writers...)), files, nil
}

// NewWithWriter 使用给定的 writer 创建 logger
func NewWithWriter(cfg Config, w io.Writer) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(cfg.Level)}
	if strings.EqualFold(cfg.Format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// Init 初始化全局 logger，只有第一次调用生效
func Init(cfg Config) error {
	var err error
	once.Do(func() {
		var (
			l     *slog.Logger
			files []io.Closer
		)
		l, files, err = New(cfg)
		if err != nil {
			return
		}
		globalLogger = l
		closers = files
		slog.SetDefault(l)
	})
	return err
}

// Close 关闭 Init 打开的日志文件
func Close() {
	closeAll(closers)
	closers = nil
}

func closeAll(cs []io.Closer) {
	for _, c := range cs {
		_ = c.Close()
	}
}

func Debug(msg string, args ...interface{}) {
	globalLogger.Debug(msg, args...)
}

func Info(msg string, args ...interface{}) {
	globalLogger.Info(msg, args...)
}

func Warn(msg string, args ...interface{}) {
	globalLogger.Warn(msg, args...)
}

func Error(msg string, args ...interface{}) {
	globalLogger.Error(msg, args...)
}

func Logger() *slog.Logger {
	return globalLogger
}

// Discard 返回丢弃所有输出的 logger，测试中使用
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}
