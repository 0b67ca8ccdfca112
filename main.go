package main

import "tutorchat/cmd"

func main() {
	cmd.Execute()
}
