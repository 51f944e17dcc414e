package main

import (
	"os"

	"github.com/AleeDevp/italihub-moderation/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
