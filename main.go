package main

import "anchorlink/cmd"

func main() {
	cmd.Execute()
}
