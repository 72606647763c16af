// Command typegen parses Go struct definitions and generates the TypeScript
// interfaces the UI uses for settings, turns and control plane messages.
// Run from the project root:
//
//	go run ./cmd/typegen -out ui/src/types/generated.ts
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
)

func main() {
	outPath := flag.String("out", "ui/src/types/generated.ts", "output TypeScript file path")
	module := flag.String("module", "chatkit", "module path used to resolve imports")
	flag.Parse()

	root, err := os.Getwd()
	if err != nil {
		fatal("getwd: %v", err)
	}

	out, err := generate(root, *module)
	if err != nil {
		fatal("%v", err)
	}

	absOut := *outPath
	if !filepath.IsAbs(absOut) {
		absOut = filepath.Join(root, absOut)
	}
	if err := os.MkdirAll(filepath.Dir(absOut), 0o755); err != nil {
		fatal("mkdir: %v", err)
	}
	if err := os.WriteFile(absOut, out, 0o644); err != nil {
		fatal("write: %v", err)
	}
	fmt.Fprintf(os.Stderr, "wrote %s (%d bytes)\n", absOut, len(out))
}

func fatal(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "typegen: "+format+"\n", args...)
	os.Exit(1)
}
