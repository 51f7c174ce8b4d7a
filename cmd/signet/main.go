package main

import "github.com/jmcleod/signet/cmd/signet/cmd"

func main() {
	cmd.Execute()
}
