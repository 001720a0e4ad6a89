package main

import "rshell/cmd"

func main() {
	cmd.Execute()
}
