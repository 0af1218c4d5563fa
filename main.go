package main

import "mediadupfinder/cmd"

func main() {
	cmd.Execute()
}
