package cmd

import (
	"log"

	"github.com/codenu/laythe-v2/laythe"
	"github.com/spf13/cobra"
)

var (
	runCmd = &cobra.Command{
		Use:   "run [flags]",
		Short: "Starts the Laythe bot and API",
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			lt, err := laythe.New(cfg)
			if err != nil {
				log.Fatalf("error creating laythe: %s", err.Error())
			}

			if err = lt.Run(ctx); err != nil {
				log.Fatalf("error running laythe: %s", err.Error())
			}
		},
	}
)

func init() {
	rootCmd.AddCommand(runCmd)
}
