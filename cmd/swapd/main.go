package main

import (
	"fmt"
	"os"

	"github.com/swapbridge/swapbridge/swapd"
)

func main() {
	if err := swapd.Run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
