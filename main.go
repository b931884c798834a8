package main

import "github.com/agentic-research/cominavi/cmd"

func main() {
	cmd.Execute()
}
