package main

import "github.com/frahmantamala/energy-settlement/cmd"

func main() {
	cmd.Execute()
}
