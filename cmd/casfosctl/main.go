// Command casfosctl queries the CASFOS registry from the terminal.
//
// Usage:
//
//	casfosctl [-c configs/development.yaml] <command> <subcommand> [flags]
package main

import "github.com/casfos/registry/internal/cli"

func main() {
	cli.Execute()
}
