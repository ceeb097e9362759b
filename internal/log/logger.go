package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init 配置全局 logger：dev 环境输出彩色控制台格式并默认 debug 级别，
// 其他环境输出 JSON 并默认 info。level 非空时覆盖默认级别，无法解析则忽略。
func Init(env, level string) {
	Setup(os.Stdout, env, level)
}

// Setup 与 Init 相同，但写入指定的 io.Writer。
func Setup(out io.Writer, env, level string) {
	zerolog.TimeFieldFormat = time.RFC3339
	lvl := zerolog.InfoLevel
	if env == "dev" {
		lvl = zerolog.DebugLevel
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339, NoColor: out != os.Stdout}
	}
	if l, err := zerolog.ParseLevel(level); err == nil && level != "" {
		lvl = l
	}
	zerolog.SetGlobalLevel(lvl)
	log.Logger = zerolog.New(out).With().Timestamp().Str("service", "chatroom").Logger()
}
