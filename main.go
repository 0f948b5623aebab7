package main

import "github.com/nextlevelbuilder/clawhost/cmd"

func main() {
	cmd.Execute()
}
