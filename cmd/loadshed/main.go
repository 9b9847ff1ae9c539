// Command loadshed runs demand-response load-shed events against a Point
// Gateway and clears overrides an interrupted event left behind.
package main

import "github.com/oshokin/loadshed/cmd/loadshed/cmd"

func main() {
	cmd.Execute()
}
