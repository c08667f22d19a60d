// Package main provides the Delilog Core library entry point.
// This is a platform-agnostic core that can be compiled as:
// - Shared library for mobile (FFI bridge in cmd/mobile)
// - Localhost sidecar for desktop (cmd/desktop)
package main

import (
	"fmt"
	"log"
)

// Version is set at build time
var Version = "0.1.0"

func main() {
	fmt.Printf("Delilog Core v%s\n", Version)
	log.Println("Delilog Core - offline-first check-in sync engine")
}
