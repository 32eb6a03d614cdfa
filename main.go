package main

import "github.com/ValentinKolb/memcon/cmd"

func main() {
	cmd.Execute()
}
