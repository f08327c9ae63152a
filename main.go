// The main package for the extractord executable.
package main

import (
	"github.com/pagevault/extractor/cmd"
)

func main() {
	cmd.Execute()
}
