// Command chainbandit runs the chain-selection bandit: the rotation loop,
// the HTTP API, and maintenance commands against the arm store.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}
