package main

import "github.com/membank/membank/internal/cli"

func main() {
	cli.Execute()
}
