package main

import "github.com/metasync/metasync/cmd"

func main() {
	cmd.Execute()
}
