package main

import (
	"github.com/dyike/cortexctl/internal/cli"
)

func main() {
	cli.Run()
}
