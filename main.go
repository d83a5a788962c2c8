package main

import "github.com/boozedog/learnpath/cmd"

func main() {
	cmd.Execute()
}
