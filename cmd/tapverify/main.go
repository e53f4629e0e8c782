package main

import "github.com/OpenTraceLab/OpenTraceTAP/cmd/tapverify/cmd"

func main() {
	cmd.Execute()
}
