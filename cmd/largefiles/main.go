package main

import "github.com/stefando/largeFileUpload/cmd/largefiles/cmd"

func main() {
	cmd.Execute()
}
