package main

import "github.com/tanq16/velodown/cmd"

func main() {
	cmd.Execute()
}
