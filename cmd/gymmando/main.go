// Command gymmando is the terminal voice client for the Gymmando assistant.
//
// Usage:
//
//	gymmando [--toggle]        start a voice session
//	gymmando login             sign in
//	gymmando serve             headless, driven by the local control API
//	gymmando calibrate         tune microphone gain and threshold
package main

import (
	"fmt"
	"os"

	"github.com/gymmando/voice-client/cmd/gymmando/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
