// Package main is the entry point for the salvage CLI.
package main

import "salvage.dev/pkg/salvage/cmd"

func main() {
	cmd.Execute()
}
