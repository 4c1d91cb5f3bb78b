package main

import "github.com/OpenTraceLab/OpenTraceMKII/cmd/mk2/cmd"

func main() {
	cmd.Execute()
}
