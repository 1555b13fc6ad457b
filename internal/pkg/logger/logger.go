package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// New 创建日志实例，debug 模式下输出彩色控制台格式，其余为 JSON
func New(mode string) zerolog.Logger {
	return NewWithWriter(mode, os.Stdout)
}

func NewWithWriter(mode string, w io.Writer) zerolog.Logger {
	level := zerolog.InfoLevel
	if mode == "debug" {
		level = zerolog.DebugLevel
	}

	l := zerolog.New(w).
		Level(level).
		With().
		Timestamp().
		Logger()

	if mode == "debug" {
		l = l.Output(zerolog.ConsoleWriter{Out: w, TimeFormat: time.RFC3339})
	}

	return l
}

// Nop 丢弃所有输出，测试用
func Nop() zerolog.Logger {
	return zerolog.Nop()
}
