package main

import "retrans/internal/cli"

func main() {
	cli.Execute()
}
