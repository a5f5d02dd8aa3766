// Package infrastructure provides reusable infrastructure components for Go applications.
package infrastructure

import (
	"fmt"

	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

// FxLogger routes Fx's lifecycle events through zap. Successful wiring is
// logged at debug so a healthy start stays quiet; failures are errors.
type FxLogger struct {
	logger *zap.Logger
}

// NewFxLogger creates an fxevent.Logger backed by logger.
func NewFxLogger(logger *zap.Logger) fxevent.Logger {
	return &FxLogger{logger: logger.Named("fx")}
}

// NewFxPrinter creates an fx.Printer backed by logger.
func NewFxPrinter(logger *zap.Logger) fx.Printer {
	return &FxLogger{logger: logger.Named("fx")}
}

// LogEvent implements fxevent.Logger.
func (l *FxLogger) LogEvent(event fxevent.Event) {
	switch e := event.(type) {
	case *fxevent.OnStartExecuting:
		l.logger.Debug("OnStart hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStartExecuted:
		l.hookDone("OnStart", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.OnStopExecuting:
		l.logger.Debug("OnStop hook executing",
			zap.String("callee", e.FunctionName),
			zap.String("caller", e.CallerName))
	case *fxevent.OnStopExecuted:
		l.hookDone("OnStop", e.FunctionName, e.CallerName, e.Runtime.String(), e.Err)
	case *fxevent.Supplied:
		l.result("Supplied", e.Err, zap.String("type", e.TypeName), moduleField(e.ModuleName))
	case *fxevent.Provided:
		l.result("Provided", e.Err,
			zap.Strings("types", e.OutputTypeNames),
			zap.String("constructor", e.ConstructorName),
			moduleField(e.ModuleName))
	case *fxevent.Invoking:
		l.logger.Debug("Invoking", zap.String("function", e.FunctionName), moduleField(e.ModuleName))
	case *fxevent.Invoked:
		l.result("Invoked", e.Err, zap.String("function", e.FunctionName), moduleField(e.ModuleName))
	case *fxevent.Stopping:
		l.logger.Info("Received signal", zap.String("signal", e.Signal.String()))
	case *fxevent.Stopped:
		l.lifecycle("Stopped", e.Err)
	case *fxevent.RollingBack:
		l.logger.Error("Start failed, rolling back", zap.Error(e.StartErr))
	case *fxevent.RolledBack:
		l.lifecycle("Rolled back", e.Err)
	case *fxevent.Started:
		l.lifecycle("Started", e.Err)
	case *fxevent.LoggerInitialized:
		l.result("Logger initialized", e.Err, zap.String("constructor", e.ConstructorName))
	default:
		l.logger.Debug("Unhandled fx event", zap.String("event", eventName(event)))
	}
}

// Printf implements fx.Printer.
func (l *FxLogger) Printf(format string, args ...any) {
	l.logger.Sugar().Infof(format, args...)
}

func (l *FxLogger) hookDone(hook, callee, caller, runtime string, err error) {
	if err != nil {
		l.logger.Error(hook+" hook failed",
			zap.String("callee", callee),
			zap.String("caller", caller),
			zap.Error(err))
		return
	}
	l.logger.Debug(hook+" hook executed",
		zap.String("callee", callee),
		zap.String("caller", caller),
		zap.String("runtime", runtime))
}

func (l *FxLogger) result(msg string, err error, fields ...zap.Field) {
	if err != nil {
		l.logger.Error(msg+" failed", append(fields, zap.Error(err))...)
		return
	}
	l.logger.Debug(msg, fields...)
}

func (l *FxLogger) lifecycle(msg string, err error) {
	if err != nil {
		l.logger.Error(msg+" with error", zap.Error(err))
		return
	}
	l.logger.Info(msg)
}

func moduleField(name string) zap.Field {
	if name == "" {
		return zap.Skip()
	}
	return zap.String("module", name)
}

func eventName(event fxevent.Event) string {
	return fmt.Sprintf("%T", event)
}
