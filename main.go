// Command toolsync keeps the local tools' storage in sync with the account hub.
package main

import (
	"os"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
