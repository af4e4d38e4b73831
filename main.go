// sockserv - a forking-style TCP command server with echo modes and
// SSH gateway serving.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"sockserv/cmd"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cmd.Execute(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "sockserv: %v\n", err)
		os.Exit(1)
	}
}
