// Package app provides the main application structure and lifecycle management.
package app

import (
	"context"
	"sync"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/voice"
)

// Application represents the main application with its lifecycle.
type Application struct {
	app *fx.App
}

// New creates a new Application with the provided modules and options.
func New(modules ...fx.Option) *Application {
	// Combine all provided modules with lifecycle management
	options := append(modules, fx.Invoke(registerLifecycleHooks))

	app := fx.New(options...)

	return &Application{
		app: app,
	}
}

// Err reports a dependency graph error from construction.
func (a *Application) Err() error {
	return a.app.Err()
}

// Start runs the OnStart hooks.
func (a *Application) Start(ctx context.Context) error {
	return a.app.Start(ctx)
}

// Wait delivers the first shutdown request: an OS signal, or the end of the
// tutor call.
func (a *Application) Wait() <-chan fx.ShutdownSignal {
	return a.app.Wait()
}

// Stop gracefully stops the application.
func (a *Application) Stop(ctx context.Context) error {
	return a.app.Stop(ctx)
}

type lifecycleParams struct {
	fx.In
	LC         fx.Lifecycle
	Shutdowner fx.Shutdowner
	Cfg        *config.Config
	Service    *voice.Service
	Logger     *zap.Logger
}

// registerLifecycleHooks starts the tutor call when configured to and ties
// the process lifetime to it.
func registerLifecycleHooks(p lifecycleParams) {
	var (
		wg     sync.WaitGroup
		cancel context.CancelFunc = func() {}
	)

	p.LC.Append(fx.Hook{
		OnStart: func(context.Context) error {
			if !p.Cfg.Voice.AutoStart {
				p.Logger.Info("Voice service ready",
					zap.String("provider", p.Cfg.Voice.Provider),
					zap.String("host", p.Cfg.Voice.Host))
				return nil
			}

			// The call outlives the start context.
			var ctx context.Context
			ctx, cancel = context.WithCancel(context.Background())
			wg.Add(1)
			go func() {
				defer wg.Done()
				runCall(ctx, p)
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			p.Logger.Info("Stopping application: Ending voice session")

			cancel()
			wg.Wait()

			if err := p.Service.Shutdown(ctx); err != nil {
				p.Logger.Error("Failed to stop voice service", zap.Error(err))
				return err
			}

			p.Logger.Info("Application stopped successfully")
			return nil
		},
	})
}

// runCall opens a session and requests shutdown once it ends.
func runCall(ctx context.Context, p lifecycleParams) {
	session, err := p.Service.Start(ctx)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.Logger.Error("Failed to start tutor call", zap.Error(err))
		shutdown(p, 1)
		return
	}

	for {
		select {
		case <-ctx.Done():
			return
		case summary := <-p.Service.Ended():
			if summary.SessionID != session.ID() {
				continue
			}
			p.Logger.Info("Tutor call ended",
				zap.String("session_id", summary.SessionID),
				zap.String("reason", summary.EndReason),
				zap.Duration("duration", summary.Duration()))

			code := 0
			if summary.FinalState == voice.StateFailed {
				code = 1
			}
			shutdown(p, code)
			return
		}
	}
}

func shutdown(p lifecycleParams, code int) {
	if err := p.Shutdowner.Shutdown(fx.ExitCode(code)); err != nil {
		p.Logger.Error("Failed to request shutdown", zap.Error(err))
	}
}
