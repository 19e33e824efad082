// Package cli implements voicectl, a command-line client for the voice backend.
package cli

import (
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverFlag  string
	tokenFlag   string
	pathFlag    string
	timeoutFlag time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "voicectl",
	Short: "Command-line client for the Coliblanco voice backend",
	Long: `voicectl talks to a running voice backend over HTTP. It is useful for
smoke-testing a deployment without the dashboard.

Examples:
  voicectl session                          Fetch a realtime session token
  voicectl chat "Hoe laat is het?"          Send one chat turn
  voicectl tts "Goedemorgen" -o hi.mp3      Synthesize speech to a file
  voicectl transcribe note.webm             Transcribe an audio file
  voicectl token --secret s3cr3t kiosk-1    Mint an access token
  voicectl session --path client_secret.value`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", envOr("VOICECTL_SERVER", "http://localhost:3001"), "backend base URL")
	rootCmd.PersistentFlags().StringVarP(&tokenFlag, "token", "t", os.Getenv("VOICECTL_TOKEN"), "bearer token for protected backends")
	rootCmd.PersistentFlags().StringVarP(&pathFlag, "path", "p", "", "print only this gjson path of the JSON response")
	rootCmd.PersistentFlags().DurationVar(&timeoutFlag, "timeout", time.Minute, "request timeout")

	rootCmd.AddCommand(sessionCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(ttsCmd)
	rootCmd.AddCommand(transcribeCmd)
	rootCmd.AddCommand(tokenCmd)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// readInput returns the positional argument, or stdin when it is piped.
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) > 0 {
		return args[0], nil
	}
	if f, ok := stdin.(*os.File); ok {
		stat, err := f.Stat()
		if err != nil || stat.Mode()&os.ModeCharDevice != 0 {
			return "", fmt.Errorf("no input: pass text as an argument or pipe it on stdin")
		}
	}
	data, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("failed to read stdin: %w", err)
	}
	return string(data), nil
}
