// Package logging は slog ベースの構造化ロガーを構築します。
package logging

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options はロガーの出力先とレベルを指定します。
type Options struct {
	Level   string // debug, info, warn, error
	File    string // ローテーション付きファイル（空なら標準出力のみ）
	Service string
}

// New は JSON 形式の slog.Logger を作成します。
// File を指定した場合は標準出力とローテーションファイルの両方へ書き込みます。
// 返される io.Closer はプロセス終了時に閉じてください。
func New(opts Options) (*slog.Logger, io.Closer, error) {
	var (
		out    io.Writer = os.Stdout
		closer io.Closer = nopCloser{}
	)

	if opts.File != "" {
		if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
			return nil, nil, err
		}
		fileWriter := &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    100, // MB
			MaxBackups: 3,
			MaxAge:     28, // days
			Compress:   true,
		}
		out = io.MultiWriter(os.Stdout, fileWriter)
		closer = fileWriter
	}

	logger := NewWithWriter(out, ParseLevel(opts.Level))
	if opts.Service != "" {
		logger = logger.With(slog.String("service", opts.Service))
	}
	return logger, closer, nil
}

// NewWithWriter は任意の出力先に JSON ログを書き込むロガーを作成します。
func NewWithWriter(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// ParseLevel は文字列をログレベルに変換します。不明な値は info とみなします。
func ParseLevel(value string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(value)) {
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

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
