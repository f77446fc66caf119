// Command punchsync reconciles biometric terminal punches into attendance days.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/roach88/punchsync/internal/cli"
)

func main() {
	if err := cli.Execute(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "punchsync:", err)
		os.Exit(cli.GetExitCode(err))
	}
}
