package main

import (
	"os"

	"bird-quiz-kiosk/internal/cli"
)

func main() {
	if err := cli.Execute(); err != nil {
		os.Exit(1)
	}
}
