package main

import "github.com/haunv/profilesync/internal/cli"

func main() {
	cli.Execute()
}
