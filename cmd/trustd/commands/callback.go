package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustd/pkg/powerauth/model"
)

var callbackApplicationID uint

var callbackCmd = &cobra.Command{
	Use:   "callback",
	Short: "Manage activation status callbacks",
	Long: `Manage the HTTP callback URLs notified whenever an activation of an
application changes status.`,
}

var callbackRegisterCmd = &cobra.Command{
	Use:   "register <name> <url>",
	Short: "Register a callback URL for an application",
	Args:  cobra.ExactArgs(2),
	RunE:  runCallbackRegister,
}

var callbackListCmd = &cobra.Command{
	Use:   "list",
	Short: "List callback URLs of an application",
	RunE:  runCallbackList,
}

var callbackRemoveCmd = &cobra.Command{
	Use:   "remove <id>",
	Short: "Remove a callback URL",
	Args:  cobra.ExactArgs(1),
	RunE:  runCallbackRemove,
}

func init() {
	callbackRegisterCmd.Flags().UintVar(&callbackApplicationID, "application-id", 0, "Application ID")
	_ = callbackRegisterCmd.MarkFlagRequired("application-id")
	callbackListCmd.Flags().UintVar(&callbackApplicationID, "application-id", 0, "Application ID")
	_ = callbackListCmd.MarkFlagRequired("application-id")

	callbackCmd.AddCommand(callbackRegisterCmd)
	callbackCmd.AddCommand(callbackListCmd)
	callbackCmd.AddCommand(callbackRemoveCmd)
}

func runCallbackRegister(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	callback := &model.CallbackURL{
		ApplicationID: callbackApplicationID,
		Name:          args[0],
		CallbackURL:   args[1],
	}
	if err := st.CreateCallbackURL(context.Background(), callback); err != nil {
		return fmt.Errorf("failed to register callback: %w", err)
	}

	fmt.Printf("Callback registered: %s\n", callback.Name)
	fmt.Printf("  ID:  %s\n", callback.ID)
	fmt.Printf("  URL: %s\n", callback.CallbackURL)

	return nil
}

func runCallbackList(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	callbacks, err := st.ListCallbackURLs(context.Background(), callbackApplicationID)
	if err != nil {
		return fmt.Errorf("failed to list callbacks: %w", err)
	}
	if len(callbacks) == 0 {
		fmt.Println("No callbacks registered.")
		return nil
	}
	for _, cb := range callbacks {
		fmt.Printf("%s  %s  %s\n", cb.ID, cb.Name, cb.CallbackURL)
	}

	return nil
}

func runCallbackRemove(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	if err := st.DeleteCallbackURL(context.Background(), args[0]); err != nil {
		return fmt.Errorf("failed to remove callback: %w", err)
	}

	fmt.Println("Callback removed.")
	return nil
}
