// Command lesca is the content-extraction toolchain's CLI surface
// (spec.md §6, external/contract-only): init, scrape, session management,
// and metrics export/watch, all driven through the in-scope browser pool,
// circuit breaker, session store, tiered cache, rate limiter, batch
// executor, and metrics collector.
package main

import (
	"fmt"
	"os"

	"github.com/ostin-pil/lesca/pkg/version"
)

const banner = `
  _           _____ _____ _____
 | |___  ___ |  ___/  __ \_   _|
 | / __|/ __|| |   | /  \/ | |
 | \__ \ (__ | |___| \__/\_| |_
 |_|___/\___|\____/ \____/\___/
`

func main() {
	if len(os.Args) > 1 && (os.Args[1] == "-V" || os.Args[1] == "--banner") {
		fmt.Print(banner)
		fmt.Printf("lesca %s (%s)\n", version.Full(), version.GoVersion())
		os.Exit(exitSuccess)
	}

	root := newRootCmd()
	err := root.Execute()
	os.Exit(exitCodeFor(err))
}
