package main

import "github.com/aweris/hoard/cmd/hoard/cmd"

func main() {
	cmd.Execute()
}
