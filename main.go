package main

import (
	"os"

	"github.com/joejulian/sshmount/pkg/cli"
)

func main() {
	os.Exit(cli.Execute())
}
