// Package main is the entry point of rulesync.
package main

import "github.com/AdguardTeam/rulesync/internal/cmd"

func main() {
	cmd.Main()
}
