package main

import "github.com/chaos-io/imageapp/cmd"

func main() {
	cmd.Execute()
}
