// Package main is the entry point for the rlink raw Ethernet tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/rlink/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
