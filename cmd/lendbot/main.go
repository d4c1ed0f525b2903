// Command lendbot runs the automated margin-lending bot and its maintenance
// subcommands.
package main

import (
	"polo-lending-bot/internal/cli"
)

func main() {
	cli.Execute()
}
