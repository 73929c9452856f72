// Command taskly is a local-first task manager with CouchDB replication.
package main

import (
	"os"

	"github.com/roach88/taskly/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:], os.Stdout, os.Stderr))
}
