// Command jobctl is the operator CLI for the pipeline API: it triggers stage
// jobs, inspects and lists them, follows a running job and resumes jobs that
// stopped before their input was exhausted.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
)

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		if !errors.Is(err, context.Canceled) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}
