package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var integrationCmd = &cobra.Command{
	Use:   "integration",
	Short: "Manage integration credentials",
	Long: `Manage the HTTP Basic credentials backend services use to call the
trustd REST API when restrict_access is enabled.`,
}

var integrationCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create integration credentials",
	Args:  cobra.ExactArgs(1),
	RunE:  runIntegrationCreate,
}

func init() {
	integrationCmd.AddCommand(integrationCreateCmd)
}

func runIntegrationCreate(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	integration, clientSecret, err := st.CreateIntegration(context.Background(), args[0])
	if err != nil {
		return fmt.Errorf("failed to create integration: %w", err)
	}

	fmt.Printf("Integration created: %s\n", integration.Name)
	fmt.Printf("  Client token:  %s\n", integration.ClientToken)
	fmt.Printf("  Client secret: %s\n", clientSecret)
	fmt.Println("\nPlease save the client secret. It is stored hashed and will not be shown again.")

	return nil
}
