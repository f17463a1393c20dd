package main

import "somwatcher/internal/cli"

func main() {
	cli.Execute()
}
