package main

import (
	"github.com/contentstudio/research-engine/cmd"
)

func main() {
	cmd.Execute()
}
