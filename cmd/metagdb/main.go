package main

import "github.com/IOB-Muenster/MetagenomicsDB-sub001/cmd"

func main() {
	cmd.Execute()
}
