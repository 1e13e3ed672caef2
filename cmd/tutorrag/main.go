// Command tutorrag is the entry point for the TutorRAG personal tutoring
// system. One binary hosts both processes: the agent host HTTP server
// (`tutorrag serve`) and the knowledge-base tool gateway (`tutorrag gateway`).
package main

import (
	"fmt"
	"os"

	"github.com/tutorstack/tutorrag/cmd/tutorrag/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
