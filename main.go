package main

import "vkbridge/cmd"

func main() {
	cmd.Execute()
}
