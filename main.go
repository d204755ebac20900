package main

import "github.com/caminotrails/stamp-crawler/cmd"

func main() {
	cmd.Execute()
}
