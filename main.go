package main

import "venvbuild/internal/venvbuild"

func main() {
	venvbuild.Main()
}
