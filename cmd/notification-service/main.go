package main

import (
	"context"
	stdlog "log"

	"orderflow/internal/app"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("Notification service failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	application, err := app.NewNotificationApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
