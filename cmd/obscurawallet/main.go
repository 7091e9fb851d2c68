package main

import (
	"encoding/json"
	"fmt"
	"os"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/spf13/cobra"
)

func main() {
	var configPath string
	var config obscura.Config

	rootCmd := &cobra.Command{
		Use: "obscurawallet",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			config = obscura.LoadConfig(configPath)
			applyFlagOverrides(cmd, &config)
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
			os.Exit(0)
		},
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", defaultConfigPath(), "Path to config file")
	rootCmd.PersistentFlags().String("node", "", "Which [node] config section to use")
	rootCmd.PersistentFlags().String("webapi-port", "", "Admin API port")
	rootCmd.PersistentFlags().String("webapi-bind", "", "Admin API bind address")
	rootCmd.PersistentFlags().String("store-db-file", "", "Store DB file (or postgres:// URL)")

	serverCmd := &cobra.Command{
		Use:   "server",
		Short: "Start the obscurawallet server",
		Run: func(cmd *cobra.Command, args []string) {
			Server(config)
		},
	}

	configCmd := &cobra.Command{
		Use:   "showconf",
		Short: "Print the config state and exit",
		Run: func(cmd *cobra.Command, args []string) {
			o, _ := json.MarshalIndent(config, ">", " ")
			fmt.Println(string(o))
			os.Exit(0)
		},
	}

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(configCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
	}
}

func defaultConfigPath() string {
	if path, set := os.LookupEnv("OBSCURAWALLET_CONFIG"); set {
		return path
	}
	return "config.toml"
}

// Flags win over the config file when both are given.
func applyFlagOverrides(cmd *cobra.Command, config *obscura.Config) {
	flags := cmd.Flags()
	if v, _ := flags.GetString("node"); v != "" {
		config.Obscurawallet.Node = v
	}
	if v, _ := flags.GetString("webapi-port"); v != "" {
		config.WebAPI.AdminPort = v
	}
	if v, _ := flags.GetString("webapi-bind"); v != "" {
		config.WebAPI.AdminBind = v
	}
	if v, _ := flags.GetString("store-db-file"); v != "" {
		config.Store.DBFile = v
	}
}
