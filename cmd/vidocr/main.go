package main

import "github.com/MeKo-Tech/vidocr/cmd/vidocr/cmd"

func main() {
	cmd.Execute()
}
