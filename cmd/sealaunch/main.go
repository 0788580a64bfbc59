package main

import (
	"os"

	"github.com/psantana5/sealaunch/cmd/sealaunch/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
