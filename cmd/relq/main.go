// Command relq is the relq CLI.
package main

import (
	"os"

	"github.com/roach88/relq/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
