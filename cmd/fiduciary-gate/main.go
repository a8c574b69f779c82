package main

import (
	"github.com/Fiduciary-Gate/Fiduciarygate/cmd/fiduciary-gate/cmd"
)

func main() {
	cmd.Execute()
}
