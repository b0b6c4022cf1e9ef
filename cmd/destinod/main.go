package main

import "github.com/ReadySet1/destino-sf-sub005/internal/cli"

func main() {
	cli.Execute()
}
