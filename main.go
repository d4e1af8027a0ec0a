package main

import "github.com/Taichi-iskw/transcript-index/cmd"

func main() {
	cmd.Execute()
}
