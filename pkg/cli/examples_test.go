package cli_test

import (
	"fmt"
	"os"
	"strings"

	"github.com/woliveiras/partfix/pkg/cli"
)

func ExampleNewUI() {
	ui := cli.NewUI(strings.NewReader("yes\n"), os.Stdout)
	ok, err := ui.Confirm("Apply 1 PARTUUID fix(es)?")
	fmt.Println("->", ok, err)
	// Output: Apply 1 PARTUUID fix(es)? (yes/no): -> true <nil>
}

func ExampleRun() {
	// Calling Run with an empty args slice returns a usage error.
	var args []string
	code, err := cli.Run(args)
	fmt.Println(code, err)
	// Output: 64 no arguments provided
}
