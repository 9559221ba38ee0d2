package main

import "TLDRTube/cmd"

func main() {
	cmd.Execute()
}
