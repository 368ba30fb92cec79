package main

import "taskd/cmd/taskd/cli"

func main() {
	cli.Run()
}
