package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustd/pkg/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a sample configuration file",
	Long: `Initialize a sample trustd configuration file.

By default, the configuration file is created at $XDG_CONFIG_HOME/trustd/config.yaml.
Use --config to specify a custom path.

Examples:
  # Initialize with default location
  trustd init

  # Initialize with custom path
  trustd init --config /etc/trustd/config.yaml

  # Force overwrite existing config
  trustd init --force`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().BoolVar(&initForce, "force", false, "Force overwrite existing config file")
}

func runInit(cmd *cobra.Command, args []string) error {
	configFile := GetConfigFile()

	var configPath string
	var err error

	if configFile != "" {
		// Use custom path
		err = config.InitConfigToPath(configFile, initForce)
		configPath = configFile
	} else {
		// Use default path
		configPath, err = config.InitConfig(initForce)
	}

	if err != nil {
		return fmt.Errorf("failed to initialize config: %w", err)
	}

	fmt.Printf("Configuration file created at: %s\n", configPath)
	fmt.Println("\nNext steps:")
	fmt.Println("  1. Edit the configuration file to customize your setup")
	fmt.Println("  2. Register an application: trustd application create my-app")
	fmt.Println("  3. Start the server with: trustd start")
	fmt.Println("\nSecurity note:")
	fmt.Println("  To encrypt server private keys at rest, set server_private_key_encryption")
	fmt.Println("  to AES_HMAC and provide a master key via an environment variable:")
	fmt.Println("    # Generates a Base64 encoded 16 byte key")
	fmt.Println("    export TRUSTD_POWERAUTH_MASTER_DB_ENCRYPTION_KEY=$(openssl rand -base64 16)")

	return nil
}
