package main

import "github.com/nrnmpi/multisplit/cmd/runtime/cmd"

func main() {
	cmd.Execute()
}
