package main

import "github.com/chiquitav2/subfleet/cmd/subfleet/cmd"

func main() {
	cmd.Execute()
}
