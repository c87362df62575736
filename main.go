package main

import (
	"github.com/baaaht/chatmesh/cmd"
)

func main() {
	cmd.Execute()
}
