// The main package for the chapterbox executable.
package main

import (
	"github.com/JakeFAU/chapterbox/cmd"
)

func main() {
	cmd.Execute()
}
