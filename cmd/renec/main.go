// The renec binary harvests the RENEC registry and serves its data.
package main

import "github.com/registrolabs/renec-harvester/cmd"

func main() {
	cmd.Execute()
}
