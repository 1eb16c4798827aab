// Package cmd wires the command line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "vkbridge",
	Short: "Bridge between VK long-poll events and RabbitMQ",
	Long:  "vkbridge relays user messages and button presses from VK into RabbitMQ and delivers queued outbound messages back to VK users.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
