package main

import (
	"os"

	"github.com/lyra-chat/lyra-cli/internal/commands"
)

func main() {
	os.Exit(commands.Execute())
}
