package main

import "github.com/agoodway/mulberry/internal/cli"

func main() {
	cli.Execute()
}
