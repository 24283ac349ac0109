// The main package for the corpuscrawler executable.
package main

import (
	"github.com/JakeFAU/corpus-crawler/cmd"
)

// main defers all execution to the Cobra CLI library.
func main() {
	cmd.Execute()
}
