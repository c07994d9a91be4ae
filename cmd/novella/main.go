package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
)

// Novella API
//
//	@title			Novella API
//	@version		1.0
//	@description	Chunked manuscript analysis: jobs, reports, snapshots, and LLM call history.
//
//	@license.name	MIT
//	@license.url	https://opensource.org/licenses/MIT
//
//	@host		localhost:8080
//	@BasePath	/
//
//	@schemes	http
func main() {
	// Set up context with signal handling for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
