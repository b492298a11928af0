package main

import (
	"log"

	"github.com/taskdeck/taskdeck/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		log.Fatal(err)
	}
}
