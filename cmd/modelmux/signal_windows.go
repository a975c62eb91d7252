//go:build windows

package main

import (
	"os"
)

// terminationSignals lists the signals that trigger a graceful shutdown.
// Windows has no SIGTERM; Interrupt covers Ctrl-C.
var terminationSignals = []os.Signal{os.Interrupt}
