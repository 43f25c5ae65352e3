package main

import "certreg/internal/cli"

func main() {
	cli.Execute()
}
