package main

import (
	"context"
	stdlog "log"

	"orderflow/internal/app"
)

func main() {
	if err := run(); err != nil {
		stdlog.Fatalf("Order service failed: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	application, err := app.NewOrderApplication(ctx)
	if err != nil {
		return err
	}
	defer application.Shutdown()

	return application.Run()
}
