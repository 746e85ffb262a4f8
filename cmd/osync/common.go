package main

import "fmt"

const version = "0.1.0"

func printVersion() {
	fmt.Printf("osync %s\n", version)
}
