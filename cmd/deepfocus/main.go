// Command deepfocus is the entry point for the deepfocus scanner CLI.
package main

import "github.com/Y0oshi/deepfocus/cmd/cli"

func main() {
	cli.Execute()
}
