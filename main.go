package main

import (
	"os"

	"github.com/Norgate-AV/xbuild/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
