package main

import "github.com/blocklotto/aa-pipeline/cmd"

func main() {
	cmd.Execute()
}
