package main

import (
	cmd "github.com/imagen-apex/apex/cmd/apex"
)

func main() {
	cmd.Execute()
}
