// Command devices lists the audio endpoints the rich host can open.
package main

import (
	"fmt"
	"log"

	"go.uber.org/zap"

	"github.com/Raikerian/go-live-tutor/internal/voice/host"
)

func main() {
	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatalf("failed to create logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	devices, err := host.ListDevices(logger)
	if err != nil {
		logger.Fatal("Failed to list audio devices", zap.Error(err))
	}

	if len(devices) == 0 {
		fmt.Println("No audio devices found.")
		return
	}
	for _, d := range devices {
		marker := " "
		if d.Default {
			marker = "*"
		}
		fmt.Printf("%s %-8s %s\n", marker, d.Direction, d.Name)
	}
}
