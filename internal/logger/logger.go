package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger - общий логгер процесса. До вызова Init пишет в stderr.
var Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()

// Init настраивает уровень и вывод. Если filePath не пуст, лог дублируется в файл с ротацией.
func Init(level string, filePath string) {
	zerolog.TimeFieldFormat = time.RFC3339Nano

	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)

	var writer io.Writer = zerolog.ConsoleWriter{
		Out:        os.Stdout,
		TimeFormat: time.DateTime,
	}
	if filePath != "" {
		writer = zerolog.MultiLevelWriter(writer, &lumberjack.Logger{
			Filename:   filePath,
			MaxSize:    100,
			MaxAge:     7,
			MaxBackups: 5,
		})
	}

	Logger = zerolog.New(writer).
		Level(lvl).
		With().
		Timestamp().
		Logger()

	if lvl <= zerolog.DebugLevel {
		Logger = Logger.With().Caller().Logger()
	}
}

// Component возвращает дочерний логгер с полем component
func Component(name string) zerolog.Logger {
	return Logger.With().Str("component", name).Logger()
}
