// Command carwatch checks state auction registries for a watched vehicle.
package main

import "github.com/JakeFAU/carwatch/cmd"

func main() {
	cmd.Execute()
}
