package main

import "github.com/ngld/appbuild/cmd"

func main() {
	cmd.Execute()
}
