package main

import "text2sql/internal/cli"

func main() {
	cli.Execute()
}
