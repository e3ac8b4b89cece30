// The main package for the scrape-dispatch executable.
package main

import (
	"github.com/JakeFAU/scrape-dispatch/cmd"
)

func main() {
	cmd.Execute()
}
