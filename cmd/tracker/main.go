// README: Order tracker CLI; follows one order over WebSocket push and HTTP polling until it is done.
package main

import (
	"os"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
