// Command pointgw-sim serves the Point Gateway API from simulated priority arrays.
package main

import "github.com/oshokin/loadshed/cmd/pointgw-sim/cmd"

func main() {
	cmd.Execute()
}
