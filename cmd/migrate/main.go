// migrate applies the embedded profile schema migrations.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/vgo-rewards/vgo_portal/internal/config"
	"github.com/vgo-rewards/vgo_portal/internal/infra"
	"github.com/vgo-rewards/vgo_portal/internal/logging"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	logger := logging.New(cfg.LogLevel)

	if err := infra.Migrate(cfg.DatabaseURL, *direction); err != nil {
		logger.Error("migrate", "direction", *direction, "error", err)
		os.Exit(1)
	}
	logger.Info("migrations applied", "direction", *direction)
}
