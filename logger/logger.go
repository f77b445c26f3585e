package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options 日志输出配置
type Options struct {
	Env        string
	InstanceID string
	// Dir 为空时只输出到 stdout
	Dir string
}

// Logger 包装 slog.Logger，持有滚动日志文件以便关闭
type Logger struct {
	*slog.Logger
	file *lumberjack.Logger
}

// New JSON 日志写到 stdout，Dir 非空时同时写入 Dir 下滚动的 app.log
func New(opts Options) (*Logger, error) {
	var (
		w    io.Writer = defaultWriter()
		file *lumberjack.Logger
	)
	if opts.Dir != "" {
		if err := os.MkdirAll(opts.Dir, 0o755); err != nil {
			return nil, fmt.Errorf("create log dir: %w", err)
		}
		file = &lumberjack.Logger{
			Filename:   filepath.Join(opts.Dir, "app.log"),
			MaxSize:    10, // MB
			MaxBackups: 5,
		}
		w = io.MultiWriter(w, file)
	}

	return &Logger{
		Logger: newWithWriter(w, opts.Env).With("instance", opts.InstanceID),
		file:   file,
	}, nil
}

// Install 设置为全局默认 logger
func (l *Logger) Install() {
	slog.SetDefault(l.Logger)
}

// Close 关闭日志文件
func (l *Logger) Close() error {
	if l.file == nil {
		return nil
	}
	return l.file.Close()
}

func newWithWriter(w io.Writer, env string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: parseLevel(env),
	})
	return slog.New(handler)
}

func defaultWriter() io.Writer {
	return os.Stdout
}

func parseLevel(env string) slog.Level {
	switch env {
	case "production":
		return slog.LevelInfo
	case "staging":
		return slog.LevelInfo
	default:
		return slog.LevelDebug
	}
}
