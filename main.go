package main

import "github.com/sxngo/sxngo/cmd"

func main() {
	cmd.Execute()
}
