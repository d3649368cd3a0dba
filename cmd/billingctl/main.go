// Package main is the entry point for the billingctl operator CLI.
package main

import (
	"os"

	"github.com/textress/backend/cmd/billingctl/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
