// Command ext2fuse mounts an ext2 volume as a userspace filesystem,
// formatting it first when needed. Flag/config binding follows gcsfuse's
// cmd/root.go: a single cobra command whose flags are bound from cfg.Config,
// optionally overridden by a YAML config file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/chiro2001/ext2fuse/cfg"
)

var (
	cfgFile  string
	bindErr  error
	mountCfg cfg.Config
)

var rootCmd = &cobra.Command{
	Use:   "ext2fuse [flags] mount-point",
	Short: "Mount an ext2 volume as a FUSE filesystem",
	Long: `ext2fuse is a userspace ext2 filesystem engine: it formats or mounts
a block device (a regular file or an in-memory buffer) and serves it over
FUSE, the way e2fsprogs's kernel driver would, without kernel code.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if bindErr != nil {
			return bindErr
		}
		mountCfg.MountPoint = args[0]
		cfg.Rationalize(&mountCfg)
		if err := cfg.Validate(&mountCfg); err != nil {
			return err
		}
		return runMount(mountCfg)
	},
}

func init() {
	cobra.OnInitialize(initConfig)
	cfg.BindFlags(rootCmd.Flags(), &mountCfg)
	rootCmd.Flags().StringVar(&cfgFile, "config-file", "", "path to a YAML config file overriding flag defaults")
}

func initConfig() {
	if cfgFile == "" {
		return
	}
	bindErr = cfg.BindViper(viper.GetViper(), cfgFile, &mountCfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
