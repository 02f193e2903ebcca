package main

import "github.com/nextlevelbuilder/zalouser/cmd"

func main() {
	cmd.Execute()
}
