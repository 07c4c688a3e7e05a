package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/relay-protocol/relay/internal/auth"
	"github.com/relay-protocol/relay/internal/seal"
	"github.com/relay-protocol/relay/pkg/client"
	"github.com/relay-protocol/relay/pkg/relay"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// version is overridden by goreleaser via -ldflags "-X main.version=...".
var version = "dev"

var (
	gatewayURL  string
	bearerToken string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "relayctl",
	Short: "Relay gateway CLI",
	Long: `relayctl is the command-line interface for a Relay policy gateway.

It registers organizations and agents, submits manifests for validation,
and drives the seal lifecycle (verify, mark-executed).`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		viper.SetEnvPrefix("RELAY")
		viper.AutomaticEnv()

		if gatewayURL == "" {
			gatewayURL = viper.GetString("gateway_url")
		}
		if gatewayURL == "" {
			gatewayURL = "http://localhost:8000"
		}
		if bearerToken == "" {
			bearerToken = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&gatewayURL, "gateway", "", "Relay gateway URL (default http://localhost:8000, env RELAY_GATEWAY_URL)")
	rootCmd.PersistentFlags().StringVar(&bearerToken, "token", "", "Bearer token (env RELAY_TOKEN)")

	rootCmd.AddCommand(registerOrgCmd)
	rootCmd.AddCommand(registerAgentCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(verifyCmd)
	rootCmd.AddCommand(markExecutedCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(versionCmd)
}

func newClient() *client.Client {
	opts := []client.Option{client.WithTimeout(15 * time.Second)}
	if bearerToken != "" {
		opts = append(opts, client.WithBearerToken(bearerToken))
	}
	return client.MustNew(gatewayURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// ── register-org ─────────────────────────────────────────────────────────────

var (
	orgName      string
	contactEmail string
)

var registerOrgCmd = &cobra.Command{
	Use:   "register-org",
	Short: "Register a new organization and print its admin bearer token",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		resp, err := newClient().RegisterOrganization(ctx, orgName, contactEmail)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	registerOrgCmd.Flags().StringVar(&orgName, "name", "", "Organization name")
	registerOrgCmd.Flags().StringVar(&contactEmail, "email", "", "Contact email")
	_ = registerOrgCmd.MarkFlagRequired("name")
	_ = registerOrgCmd.MarkFlagRequired("email")
}

// ── register-agent ───────────────────────────────────────────────────────────

var (
	agentName        string
	agentDescription string
)

var registerAgentCmd = &cobra.Command{
	Use:   "register-agent",
	Short: "Register a new agent under the authenticated organization",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		resp, err := newClient().RegisterAgent(ctx, agentName, agentDescription)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	registerAgentCmd.Flags().StringVar(&agentName, "name", "", "Agent name")
	registerAgentCmd.Flags().StringVar(&agentDescription, "description", "", "Agent description")
	_ = registerAgentCmd.MarkFlagRequired("name")
}

// ── validate ─────────────────────────────────────────────────────────────────

var (
	manifestFile string
	dryRun       bool
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Submit a manifest (JSON file or stdin) for a policy decision",
	Long: `Validate reads a manifest document from --file (or stdin with --file -)
and submits it to the gateway. The output is the full validation response;
on approval it includes the seal.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var raw []byte
		var err error
		if manifestFile == "-" {
			raw, err = io.ReadAll(os.Stdin)
		} else {
			raw, err = os.ReadFile(manifestFile)
		}
		if err != nil {
			return fmt.Errorf("read manifest: %w", err)
		}

		var m relay.Manifest
		if err := json.Unmarshal(raw, &m); err != nil {
			return fmt.Errorf("parse manifest: %w", err)
		}

		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		resp, err := newClient().Validate(ctx, &m, dryRun)
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

func init() {
	validateCmd.Flags().StringVar(&manifestFile, "file", "", "Manifest JSON file ('-' for stdin)")
	validateCmd.Flags().BoolVar(&dryRun, "dry-run", false, "Evaluate and sign without writing to the ledger")
	_ = validateCmd.MarkFlagRequired("file")
}

// ── verify ───────────────────────────────────────────────────────────────────

var verifyCmd = &cobra.Command{
	Use:   "verify <seal_id>",
	Short: "Fetch the verification report for a seal",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		resp, err := newClient().VerifySeal(ctx, args[0])
		if err != nil {
			return err
		}
		return printJSON(resp)
	},
}

// ── mark-executed ────────────────────────────────────────────────────────────

var markExecutedCmd = &cobra.Command{
	Use:   "mark-executed <seal_id>",
	Short: "Consume a seal's one-time-use bit",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := context.WithTimeout(cmd.Context(), 15*time.Second)
		defer cancel()

		if err := newClient().MarkExecuted(ctx, args[0]); err != nil {
			return err
		}
		fmt.Printf("seal %s executed\n", args[0])
		return nil
	},
}

// ── keygen ───────────────────────────────────────────────────────────────────

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a fresh Ed25519 signing keypair and JWT secret (base64)",
	Long: `Keygen prints a new signing keypair plus a JWT secret. Set the
private key as RELAY_PRIVATE_KEY and the secret as RELAY_JWT_SECRET on the
gateway; the public key is embedded in every seal and needs no separate
distribution.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		priv, pub, err := seal.GenerateKeypair()
		if err != nil {
			return err
		}
		secret, err := auth.GenerateSecret()
		if err != nil {
			return err
		}
		return printJSON(map[string]string{
			"private_key": priv,
			"public_key":  pub,
			"jwt_secret":  secret,
		})
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the relayctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("relayctl", version)
	},
}
