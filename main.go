package main

import (
	"fmt"
	"os"

	"github.com/woliveiras/partfix/pkg/cli"
)

func main() {
	code, err := cli.Run(os.Args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "partfix: %v\n", err)
	}
	os.Exit(code)
}
