// The main package for the harvester executable.
package main

import "github.com/JakeFAU/list-harvester/cmd"

func main() {
	cmd.Execute()
}
