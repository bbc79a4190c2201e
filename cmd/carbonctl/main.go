package main

import (
	"fmt"
	"os"
	"runtime/debug"

	"github.com/carbontrail/carbontrail/backend/go-services/internal/cli"
)

func main() {
	defer func() {
		if r := recover(); r != nil {
			fmt.Fprintf(os.Stderr, "carbonctl crashed: %v\n", r)
			if os.Getenv("CARBONTRAIL_DEBUG") != "" {
				debug.PrintStack()
			}
			os.Exit(2)
		}
	}()

	cli.Execute()
}
