package main

import (
	"github.com/robotalks/sbclink/pkg/cli/sh"
	"github.com/robotalks/sbclink/pkg/env"

	_ "github.com/robotalks/sbclink/pkg/cli/cmds/machine"
)

//go-build: CGO_ENABLED=0

func init() {
	env.SetupFlags()
}

func main() {
	sh.Main()
}
