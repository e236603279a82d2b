// Command skinctl runs the palette and patch engine against local files,
// without a server or database.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
)

var (
	jsonOutput bool
	verbose    bool
	timeout    time.Duration
)

var rootCmd = &cobra.Command{
	Use:           "skinctl",
	Short:         "Wallet theme palette and patch tool",
	Long:          "Extract palettes from images, generate theme patches and validate theme documents from the command line.",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		zerolog.SetGlobalLevel(zerolog.WarnLevel)
		if verbose {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
		}
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "print JSON instead of tables")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging on stderr")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 60*time.Second, "overall deadline for network calls")
}

func main() {
	// LLM_API_KEY may live in .env, same as the server.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(exitCode(err))
	}
}
