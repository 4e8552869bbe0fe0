// Command webdav-ss serves a WebDAV tree composed of object store,
// local and in memory backends, as described by a YAML configuration
// file.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/khooj/webdav-ss/config"
	"github.com/khooj/webdav-ss/fs"
	"github.com/khooj/webdav-ss/server"
)

// version is overridden at link time.
var version = "dev"

var (
	configPath string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "webdav-ss",
	Short: "WebDAV server over composed storage backends",
	Long: `webdav-ss exposes several storage backends (S3 compatible object
stores, local directories, in memory scratch space) as one WebDAV
tree, each backend mounted at its own URL prefix. Object content can
be transparently encrypted and WebDAV dead properties are persisted in
a side storage.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		level := logLevel
		if level == "" {
			level = cfg.LogLevel
		}
		if level == "" {
			level = "info"
		}
		if err := fs.InitLogging(level); err != nil {
			return err
		}
		app, err := server.Build(context.Background(), cfg)
		if err != nil {
			return err
		}
		return app.Run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version)
	},
}

func init() {
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", "webdav-ss.yml", "path to the configuration file")
	flags.StringVar(&logLevel, "log-level", "", "log level (debug, info, warning, error)")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if err == pflag.ErrHelp {
			return
		}
		os.Exit(1)
	}
}
