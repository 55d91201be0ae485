package main

import "github.com/robff/rovercap/cmd"

func main() {
	cmd.Execute()
}
