package main

import (
	"os"

	"github.com/harrisonrobin/calsync/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
