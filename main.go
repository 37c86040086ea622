package main

import "github.com/codenu/laythe-v2/cmd"

func main() {
	cmd.Execute()
}
