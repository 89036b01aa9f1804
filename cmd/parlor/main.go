package main

import "github.com/parlor-sh/parlor/internal/cmd"

func main() {
	cmd.Execute()
}
