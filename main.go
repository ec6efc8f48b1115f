package main

import "github.com/flightops/weathermine/cmd"

func main() {
	cmd.Execute()
}
