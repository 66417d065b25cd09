package main

import "github.com/smsflow/smsflow/internal/cli"

func main() {
	cli.Execute()
}
