package main

import "github.com/andresmejia3/facemorph/cmd"

func main() {
	cmd.Execute()
}
