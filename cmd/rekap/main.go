package main

import "github.com/MeKo-Tech/rekap/cmd/rekap/cmd"

func main() {
	cmd.Execute()
}
