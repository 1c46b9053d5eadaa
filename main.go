package main

import "ocrqueue/cmd"

func main() {
	cmd.Execute()
}
