package main

import "github.com/memtrace/memexport/cmd/cli/cmd"

func main() {
	cmd.Execute()
}
