package main

import "signal-intel/internal/cli"

func main() {
	cli.Execute()
}
