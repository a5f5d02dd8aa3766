// Package main provides the entry point for the live voice tutor.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"go.uber.org/fx"

	"github.com/Raikerian/go-live-tutor/internal/app"
	"github.com/Raikerian/go-live-tutor/internal/config"
	"github.com/Raikerian/go-live-tutor/internal/infrastructure"
	"github.com/Raikerian/go-live-tutor/internal/transport"
	"github.com/Raikerian/go-live-tutor/internal/voice"
	"github.com/Raikerian/go-live-tutor/internal/voice/host"
)

func main() {
	// Set a default config path. It can be overridden with TUTOR_CONFIG.
	configPath := "config.yaml"
	if p := os.Getenv("TUTOR_CONFIG"); p != "" {
		configPath = p
	}

	// Create the application with all modules
	application := app.New(options(configPath)...)
	if err := application.Err(); err != nil {
		fmt.Printf("Failed to build application: %v\n", err)
		os.Exit(1)
	}

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	err := application.Start(startCtx)
	cancelStart()
	if err != nil {
		fmt.Printf("Failed to start: %v\n", err)
		os.Exit(1)
	}

	// Block until a signal is received or the tutor call ends
	sig := <-application.Wait()
	if sig.Signal != nil {
		fmt.Printf("Received signal: %s, initiating shutdown.\n", sig.Signal)
	}

	// Give the application 30 seconds to shut down gracefully
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)

	// Gracefully stop the application
	err = application.Stop(shutdownCtx)
	cancel() // Always cancel the context after Stop returns

	if err != nil {
		fmt.Printf("Error during shutdown: %v\n", err)
		os.Exit(1)
	}

	fmt.Println("Application has shut down gracefully.")
	os.Exit(sig.ExitCode)
}

// options lists every module of the tutor.
func options(configPath string) []fx.Option {
	return []fx.Option{
		// Core modules
		config.Module,
		infrastructure.LoggerModule,
		infrastructure.MetricsModule,

		// External service modules
		transport.Module,
		host.Module,

		// Application modules
		voice.Module,

		// Supply the config path
		fx.Supply(configPath),

		// Configure Fx to use our Zap logger for its own internal logging
		fx.WithLogger(infrastructure.NewFxLogger),
	}
}
