package cmd

import (
	"github.com/spf13/cobra"

	"github.com/kilianp07/mqttdemo/app"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Subscribe to the command topic and print messages without publishing",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return serve(cfg, (*app.Service).Listen)
	},
}

func init() {
	rootCmd.AddCommand(listenCmd)
}
