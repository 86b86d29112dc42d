package main

import "github.com/tmorland/vaultkeep/cmd/vaultkeep/cmd"

func main() {
	cmd.Execute()
}
