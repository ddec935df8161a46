// Command neuroctl is a terminal client for the NeuroSync API.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

var (
	serverURL  string
	sessionID  string
	reqTimeout time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "neuroctl",
	Short: "Talk to the NeuroSync routing backend",
	Long: `neuroctl sends requests to a running NeuroSync server.

Each question is classified and answered by one expert agent:
compliance (special-education law), history (the student's record)
or strategy (classroom plans).`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, color.RedString("error:"), err)
		os.Exit(1)
	}
}

func init() {
	defaultServer := os.Getenv("NEUROSYNC_SERVER")
	if defaultServer == "" {
		defaultServer = "http://localhost:8080"
	}

	rootCmd.PersistentFlags().StringVar(&serverURL, "server", defaultServer, "NeuroSync server base URL")
	rootCmd.PersistentFlags().StringVarP(&sessionID, "session", "s", os.Getenv("NEUROSYNC_SESSION"), "session id")
	rootCmd.PersistentFlags().DurationVar(&reqTimeout, "timeout", 90*time.Second, "per-request timeout")

	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(historyCmd)
	rootCmd.AddCommand(clearCmd)
	rootCmd.AddCommand(chatCmd)
}

func client() *apiClient {
	return newAPIClient(serverURL, reqTimeout)
}

// ensureSession creates a session when none was given.
func ensureSession(ctx context.Context, c *apiClient) (string, error) {
	if sessionID != "" {
		return sessionID, nil
	}
	sess, err := c.createSession(ctx)
	if err != nil {
		return "", fmt.Errorf("create session: %w", err)
	}
	fmt.Fprintf(os.Stderr, "%s %s\n", color.HiBlackString("session"), sess.ID)
	sessionID = sess.ID
	return sess.ID, nil
}
