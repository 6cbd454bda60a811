// Package logger — асинхронный логгер сервиса: запись идёт через буферизованный канал
// в отдельной горутине, переполнение буфера теряет строку, но не блокирует вызывающего.
// Уровни debug/info/error, замеры длительности (DeferLogDuration) и ротация файла (SetFile).
package logger

import (
	"fmt"
	"io"
	"log"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Level — порог вывода.
type Level int32

const (
	LevelDebug Level = iota
	LevelInfo
	LevelError
)

const (
	queueSize     = 8192
	slowThreshold = 100 * time.Millisecond
)

var (
	prefix atomic.Value // string
	level  atomic.Int32

	startOnce sync.Once
	queue     chan string
	inflight  atomic.Int64
)

func init() {
	level.Store(int32(ParseLevel(os.Getenv("LOG_LEVEL"))))
	prefix.Store("")
}

// ParseLevel понимает debug/trace, info, error/warn; остальное — info.
func ParseLevel(s string) Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug", "trace":
		return LevelDebug
	case "error", "warn", "warning":
		return LevelError
	default:
		return LevelInfo
	}
}

// SetLevel меняет порог на лету (LOG_LEVEL из конфига).
func SetLevel(s string) { level.Store(int32(ParseLevel(s))) }

func enabled(l Level) bool { return Level(level.Load()) <= l }

// SetPrefix задаёт имя сервиса, добавляемое к каждой строке: "[chat] ...".
func SetPrefix(p string) { prefix.Store(p) }

// SetFile дублирует вывод в файл с ротацией lumberjack. Пустой путь — только stderr.
func SetFile(path string, maxSizeMB, maxBackups, maxAgeDays int) io.Closer {
	if path == "" {
		return io.NopCloser(nil)
	}
	lj := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    maxSizeMB,
		MaxBackups: maxBackups,
		MaxAge:     maxAgeDays,
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(os.Stderr, lj))
	return lj
}

func start() {
	queue = make(chan string, queueSize)
	go func() {
		for line := range queue {
			log.Print(line)
			inflight.Add(-1)
		}
	}()
}

func emit(kind, msg string) {
	startOnce.Do(start)
	var b strings.Builder
	if p := prefix.Load().(string); p != "" {
		b.WriteString("[" + p + "] ")
	}
	b.WriteString(kind)
	b.WriteString(msg)
	inflight.Add(1)
	select {
	case queue <- b.String():
	default:
		inflight.Add(-1) // очередь полна — строка теряется
	}
}

// Flush ждёт, пока очередь будет записана, но не дольше timeout.
func Flush(timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for inflight.Load() > 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
}

func Info(v ...any) {
	if enabled(LevelInfo) {
		emit("", fmt.Sprint(v...))
	}
}

func Infof(format string, v ...any) {
	if enabled(LevelInfo) {
		emit("", fmt.Sprintf(format, v...))
	}
}

func Debugf(format string, v ...any) {
	if enabled(LevelDebug) {
		emit("DEBUG: ", fmt.Sprintf(format, v...))
	}
}

func Error(v ...any) { emit("ERROR: ", fmt.Sprint(v...)) }

func Errorf(format string, v ...any) { emit("ERROR: ", fmt.Sprintf(format, v...)) }

// Fatalf пишет ошибку, сбрасывает очередь и завершает процесс с кодом 1.
func Fatalf(format string, v ...any) {
	Errorf(format, v...)
	Flush(2 * time.Second)
	os.Exit(1)
}

// LogDuration пишет fn и длительность в мс: на debug — всегда, иначе только медленные вызовы.
func LogDuration(fn string, start time.Time) {
	elapsed := time.Since(start)
	if enabled(LevelDebug) || (enabled(LevelInfo) && elapsed >= slowThreshold) {
		emit("", fmt.Sprintf("fn=%s duration_ms=%d", fn, elapsed.Milliseconds()))
	}
}

// DeferLogDuration: defer logger.DeferLogDuration("Op", time.Now())()
func DeferLogDuration(fn string, start time.Time) func() {
	return func() { LogDuration(fn, start) }
}
