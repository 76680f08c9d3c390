// Package obslog provides module-scoped, level-filtered logging on top of
// log/slog, in the shape used throughout the wider jam/geth style logging
// packages this project is descended from: a root singleton, a small set of
// named modules that can be independently enabled or disabled, and Crit
// logging that terminates the process.
package obslog

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os"
	"sync/atomic"
)

const (
	levelMaxVerbosity slog.Level = math.MinInt
	LevelTrace        slog.Level = -8
	LevelDebug                   = slog.LevelDebug
	LevelInfo                    = slog.LevelInfo
	LevelWarn                    = slog.LevelWarn
	LevelError                   = slog.LevelError
	LevelCrit         slog.Level = 12
)

// Module tags. Each corresponds to a subsystem that can be toggled
// independently of the global level. Disabling a module suppresses its
// package-level Trace and Debug output only; Info, Warn, Error and Crit
// are always passed to the root logger.
const (
	ModDisasm     = "disasm"
	ModBuilder    = "builder"
	ModTranslator = "translator"
	ModJitmem     = "jitmem"
	ModSandbox    = "sandbox"
	ModWorkerpool = "workerpool"
	ModHostshim   = "hostshim"
	ModNativecall = "nativecall"
	ModCLI        = "cli"
)

// Logger is the interface every module-scoped logger in this project uses.
type Logger interface {
	With(ctx ...interface{}) Logger
	Trace(module string, msg string, ctx ...interface{})
	Debug(module string, msg string, ctx ...interface{})
	Info(module string, msg string, ctx ...interface{})
	Warn(module string, msg string, ctx ...interface{})
	Error(module string, msg string, ctx ...interface{})
	Crit(module string, msg string, ctx ...interface{})
	Enabled(ctx context.Context, level slog.Level) bool
}

type logger struct {
	inner *slog.Logger
}

func newLogger(h slog.Handler) Logger {
	return &logger{inner: slog.New(h)}
}

func (l *logger) write(level slog.Level, module string, msg string, ctx ...interface{}) {
	if !l.inner.Enabled(context.Background(), level) {
		return
	}
	attrs := append([]interface{}{"module", module}, ctx...)
	l.inner.Log(context.Background(), level, msg, attrs...)
}

func (l *logger) With(ctx ...interface{}) Logger { return &logger{inner: l.inner.With(ctx...)} }
func (l *logger) Trace(module, msg string, ctx ...interface{}) {
	l.write(LevelTrace, module, msg, ctx...)
}
func (l *logger) Debug(module, msg string, ctx ...interface{}) {
	l.write(LevelDebug, module, msg, ctx...)
}
func (l *logger) Info(module, msg string, ctx ...interface{}) {
	l.write(LevelInfo, module, msg, ctx...)
}
func (l *logger) Warn(module, msg string, ctx ...interface{}) {
	l.write(LevelWarn, module, msg, ctx...)
}
func (l *logger) Error(module, msg string, ctx ...interface{}) {
	l.write(LevelError, module, msg, ctx...)
}
func (l *logger) Crit(module, msg string, ctx ...interface{}) {
	l.write(LevelCrit, module, msg, ctx...)
	os.Exit(1)
}
func (l *logger) Enabled(ctx context.Context, level slog.Level) bool {
	return l.inner.Enabled(ctx, level)
}

var root atomic.Value

func init() {
	root.Store(newLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: LevelInfo})))
	for _, m := range defaultKnownModules {
		moduleEnabled[m] = true
	}
}

// ParseLevel parses a level name, accepting the legacy geth-style spellings.
func ParseLevel(lvl string) (slog.Level, error) {
	switch lvl {
	case "max", "maxverbosity":
		return levelMaxVerbosity, nil
	case "trace":
		return LevelTrace, nil
	case "debug":
		return LevelDebug, nil
	case "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	case "crit", "critical":
		return LevelCrit, nil
	default:
		return 0, fmt.Errorf("obslog: invalid level %q", lvl)
	}
}

// Init installs the root logger at the given level, writing to stderr.
func Init(levelName string) error {
	lvl, err := ParseLevel(levelName)
	if err != nil {
		return err
	}
	root.Store(newLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
	return nil
}

// Root returns the process-wide root logger.
func Root() Logger { return root.Load().(Logger) }

var defaultKnownModules = []string{
	ModDisasm, ModBuilder, ModTranslator, ModJitmem,
	ModSandbox, ModWorkerpool, ModHostshim, ModNativecall, ModCLI,
}

var moduleEnabled = make(map[string]bool)

func EnableModule(module string)  { moduleEnabled[module] = true }
func DisableModule(module string) { moduleEnabled[module] = false }
func isModuleEnabled(module string) bool {
	enabled, ok := moduleEnabled[module]
	return ok && enabled
}

func Trace(module, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Trace(module, msg, ctx...)
}
func Debug(module, msg string, ctx ...interface{}) {
	if !isModuleEnabled(module) {
		return
	}
	Root().Debug(module, msg, ctx...)
}
func Info(module, msg string, ctx ...interface{})  { Root().Info(module, msg, ctx...) }
func Warn(module, msg string, ctx ...interface{})  { Root().Warn(module, msg, ctx...) }
func Error(module, msg string, ctx ...interface{}) { Root().Error(module, msg, ctx...) }
func Crit(module, msg string, ctx ...interface{})  { Root().Crit(module, msg, ctx...) }
