package main

import "github.com/adam-mcguinness/sup-linux/cmd"

func main() {
	cmd.Execute()
}
