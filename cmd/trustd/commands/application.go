package commands

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/marmos91/trustd/pkg/powerauth/crypto"
	"github.com/marmos91/trustd/pkg/powerauth/model"
)

var applicationCmd = &cobra.Command{
	Use:   "application",
	Short: "Manage applications",
	Long: `Manage the applications mobile clients activate against.

Creating an application also generates its first application version
(the applicationKey/applicationSecret credential pair embedded in the
mobile app) and its master key pair.`,
}

var applicationCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Register a new application",
	Args:  cobra.ExactArgs(1),
	RunE:  runApplicationCreate,
}

func init() {
	applicationCmd.AddCommand(applicationCreateCmd)
}

func runApplicationCreate(cmd *cobra.Command, args []string) error {
	_, st, err := openStore()
	if err != nil {
		return err
	}
	defer st.Close()

	ctx := context.Background()

	app := &model.Application{Name: args[0]}
	if err := st.CreateApplication(ctx, app); err != nil {
		return fmt.Errorf("failed to create application: %w", err)
	}

	applicationKey, err := crypto.RandomBytes(16)
	if err != nil {
		return err
	}
	applicationSecret, err := crypto.RandomBytes(16)
	if err != nil {
		return err
	}
	version := &model.ApplicationVersion{
		ApplicationID:     app.ID,
		Name:              "default",
		ApplicationKey:    base64.StdEncoding.EncodeToString(applicationKey),
		ApplicationSecret: base64.StdEncoding.EncodeToString(applicationSecret),
		Supported:         true,
	}
	if err := st.CreateApplicationVersion(ctx, version); err != nil {
		return fmt.Errorf("failed to create application version: %w", err)
	}

	masterKey, err := crypto.GenerateKeyPair()
	if err != nil {
		return fmt.Errorf("failed to generate master key pair: %w", err)
	}
	keyPair := &model.MasterKeyPair{
		ApplicationID:    app.ID,
		Name:             "initial",
		MasterKeyPublic:  base64.StdEncoding.EncodeToString(crypto.PublicKeyBytes(masterKey.PublicKey())),
		MasterKeyPrivate: base64.StdEncoding.EncodeToString(crypto.PrivateKeyBytes(masterKey)),
		TimestampCreated: time.Now(),
	}
	if err := st.CreateMasterKeyPair(ctx, keyPair); err != nil {
		return fmt.Errorf("failed to create master key pair: %w", err)
	}

	fmt.Printf("Application created: %s\n", app.Name)
	fmt.Printf("  Application ID:     %d\n", app.ID)
	fmt.Printf("  Application key:    %s\n", version.ApplicationKey)
	fmt.Printf("  Application secret: %s\n", version.ApplicationSecret)
	fmt.Printf("  Master public key:  %s\n", keyPair.MasterKeyPublic)
	fmt.Println("\nEmbed the application key, secret and master public key in the mobile app.")
	fmt.Println("The application secret is stored server-side and shown here only once per version.")

	return nil
}
