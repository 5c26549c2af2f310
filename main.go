package main

import "mindsync-backend/cmd"

func main() {
	cmd.Run()
}
