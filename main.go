package main

import "inferload/cmd"

func main() {
	cmd.Execute()
}
