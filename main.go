// The main package for the qacollector executable.
package main

import (
	"github.com/JakeFAU/stackexchange-qa-collector/cmd"
)

func main() {
	cmd.Execute()
}
