package main

import "github.com/dbsmedya/goadaptive/cmd/goadaptive/cmd"

func main() {
	cmd.Execute()
}
