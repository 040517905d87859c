package main

import (
	"github.com/theautomat/crewsync/cmd"
	"github.com/theautomat/crewsync/internal/logging"
)

func main() {
	logging.Init()
	cmd.Execute()
}
