package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"

	"github.com/fedora-infra/fasjson-client/cmd/fasjson-client/commands"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	rootCmd := commands.NewRootCommand(commands.VersionInfo{
		Version: version,
		Commit:  commit,
		Built:   date,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)

	err := rootCmd.ExecuteContext(ctx)

	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
