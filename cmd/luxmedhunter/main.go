package main

import "github.com/example/luxmed-hunter/cmd"

func main() {
	cmd.Execute()
}
