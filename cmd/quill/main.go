// Command quill runs the content pipeline: idea generation, outlining,
// drafting and review, plus the operator API and maintenance commands.
package main

import (
	"context"
	"fmt"
	"os"
)

func main() {
	if err := Execute(context.Background(), os.Args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
