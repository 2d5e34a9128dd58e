// Command loupe indexes local files and searches them with combined
// semantic and keyword ranking.
package main

import (
	"os"

	"github.com/loupehq/loupe/cmd/loupe/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
