package main

import "github.com/kozaktomas/findandseek/cmd"

func main() {
	cmd.Execute()
}
