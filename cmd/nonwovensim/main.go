// Command nonwovensim drives the nonwoven production-line simulator: it runs
// policies against a configured line, replays recorded sessions, inspects the
// run database and serves surrogate models over gRPC.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// #region main
func main() {
	for _, envFile := range []string{".env", "../../.env"} {
		if err := godotenv.Load(envFile); err == nil {
			break
		}
	}

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

// #endregion main
