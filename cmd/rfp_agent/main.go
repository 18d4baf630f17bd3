// Package main provides the entry point for the RFP responder HTTP API
// server.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "rfp_agent",
	Short: "RFP Responder HTTP API Server",
	Long:  "RFP Responder answers Request for Proposal questions with retrieval-augmented generation over a company knowledge base, exposed via REST API.",
}

func main() {
	// Load .env file if it exists
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
