// Package cli provides the command-line interface used by partfix.
//
// The root command checks one disk image and exits with its
// classification; `partfix history` lists the runs recorded in a history
// database. Use `Run` as the entry point when embedding the CLI in other
// tools.
//
// Example usage:
//
//	code, err := cli.Run(os.Args)
//	if err != nil {
//		fmt.Fprintln(os.Stderr, "partfix:", err)
//	}
//	os.Exit(code)
package cli
