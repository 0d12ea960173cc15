// loadtest drives synthetic users against a voicematch backend. Each
// scenario is a subcommand with its own flags.
package main

import (
	"fmt"
	"os"
)

func usage() {
	fmt.Fprintf(os.Stderr, `Usage: loadtest <scenario> [flags]

Scenarios:
  match    Pairs of users search with a shared interest and wait for a match.
  churn    Users connect, announce presence, linger briefly and disconnect.

Run "loadtest <scenario> -h" for scenario flags.
`)
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(2)
	}

	switch os.Args[1] {
	case "match":
		runMatch(os.Args[2:])
	case "churn":
		runChurn(os.Args[2:])
	default:
		fmt.Fprintf(os.Stderr, "unknown scenario %q\n\n", os.Args[1])
		usage()
		os.Exit(2)
	}
}
