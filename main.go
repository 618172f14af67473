// The main package for the webtaxon executable.
package main

import "github.com/webtaxon/webtaxon/cmd"

func main() {
	cmd.Execute()
}
