// Package main is the entry point for the guardian CLI binary.
package main

import (
	"os"

	cli "gdpr-guardian/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
