package main

import (
	"github.com/node-manager/cmd/nodemgr"
)

func main() {
	nodemgr.Execute()
}
