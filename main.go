// Package main is the entry point for the harpoon capture tool.
package main

import (
	"fmt"
	"os"

	"firestige.xyz/harpoon/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
