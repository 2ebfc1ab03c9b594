package main

import "spotwatcher/internal/cli"

func main() {
	cli.Execute()
}
