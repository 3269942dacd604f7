package main

import "github.com/MikeL71221ibpm/iBPM-sub011/cmd"

func main() {
	cmd.Execute()
}
