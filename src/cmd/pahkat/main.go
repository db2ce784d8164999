// Command pahkat is the prefix-scoped package manager CLI (spec §6).
package main

import "pahkat/src/cmd"

func main() {
	cmd.Execute()
}
