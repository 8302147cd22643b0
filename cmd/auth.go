package cmd

import (
	"fmt"

	"github.com/marin/crate/internal/auth"
	"github.com/marin/crate/internal/output"
	"github.com/marin/crate/internal/syncconfig"
	"github.com/spf13/cobra"
)

var (
	loginToken  string
	loginServer string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Store sync credentials for this machine",
	Long: `Saves the refresh token and server URL to ~/.config/crate/auth.json and
verifies them against the server's refresh endpoint.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if loginToken == "" {
			output.Error("--token is required (ask the server admin for one)")
			return fmt.Errorf("--token is required")
		}
		server := loginServer
		if server == "" {
			server = syncconfig.GetServerURL()
		}

		// Verify before persisting anything.
		gateway := auth.New(server, loginToken)
		if _, err := gateway.Token(cmd.Context()); err != nil {
			output.Error("login failed: %v", err)
			return err
		}
		sess := gateway.Session()

		deviceID, err := syncconfig.GetDeviceID()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		creds := &syncconfig.AuthCredentials{
			UserID:       sess.UserID,
			RefreshToken: loginToken,
			ServerURL:    server,
			DeviceID:     deviceID,
		}
		if err := syncconfig.SaveAuth(creds); err != nil {
			output.Error("save credentials: %v", err)
			return err
		}

		output.Success("Logged in as %s against %s", sess.UserID, server)
		return nil
	},
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Forget stored sync credentials",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := syncconfig.ClearAuth(); err != nil {
			output.Error("%v", err)
			return err
		}
		output.Success("Logged out")
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVarP(&loginToken, "token", "t", "", "refresh token issued by the server")
	loginCmd.Flags().StringVarP(&loginServer, "server", "s", "", "sync server URL")
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
}
