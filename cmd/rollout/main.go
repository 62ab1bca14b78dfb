// Command rollout drives step-size control episodes with a fixed policy
// and prints a per-episode summary.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
