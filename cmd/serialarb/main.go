package main

import "github.com/luhtfiimanal/go-serial-arbiter/internal/cli"

func main() {
	cli.Execute()
}
