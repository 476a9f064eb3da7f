package main

import "github.com/forPelevin/dejavu/internal/cli"

func main() {
	cli.Main()
}
