package main

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/pkg/client"
)

// version is overridden via -ldflags "-X main.version=...".
var version = "dev"

var (
	serverURL string
	cfgFile   string
	token     string
	timeout   time.Duration
	outFormat string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "ledgerctl",
	Short: "hashledger CLI",
	Long: `ledgerctl talks to a hashledger server.

It appends and lists entries, verifies the hash chain remotely or locally,
exports the ledger as JSON lines and verifies an export offline.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			viper.SetConfigFile(cfgFile)
		} else {
			home, _ := os.UserHomeDir()
			viper.AddConfigPath(home + "/.hashledger")
			viper.SetConfigName("config")
			viper.SetConfigType("yaml")
		}
		viper.SetEnvPrefix("HASHLEDGER")
		viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
		viper.AutomaticEnv()
		_ = viper.ReadInConfig()

		if serverURL == "" {
			serverURL = viper.GetString("server_url")
		}
		if serverURL == "" {
			serverURL = "http://localhost:8080"
		}
		if token == "" {
			token = viper.GetString("token")
		}
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ~/.hashledger/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "ledger server URL (default http://localhost:8080)")
	rootCmd.PersistentFlags().StringVar(&token, "token", "", "caller token for appends")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 30*time.Second, "request timeout")
	rootCmd.PersistentFlags().StringVar(&outFormat, "format", "text", "output format: text or json")

	rootCmd.AddCommand(appendCmd, listCmd, getCmd, tailCmd, operationsCmd, statusCmd)
	rootCmd.AddCommand(verifyCmd, exportCmd, tokenCmd, versionCmd)
}

func newClient() (*client.Client, error) {
	opts := []client.Option{client.WithTimeout(timeout)}
	if token != "" {
		opts = append(opts, client.WithBearerToken(token))
	}
	return client.New(serverURL, opts...)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printEntries(entries []*ledger.Entry) error {
	if outFormat == "json" {
		return printJSON(entries)
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "INDEX\tTIME\tOPERATION\tHASH\tDATA")
	for _, e := range entries {
		data, _ := ledger.CanonicalData(e.Data)
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			e.Index,
			time.UnixMilli(e.Timestamp).UTC().Format(time.RFC3339),
			e.Operation,
			shortHash(e.Hash),
			data,
		)
	}
	return w.Flush()
}

func shortHash(h string) string {
	if len(h) > 16 {
		return h[:16] + "…"
	}
	return h
}

// ── append ───────────────────────────────────────────────────────────────────

var appendData string

var appendCmd = &cobra.Command{
	Use:   "append <operation>",
	Short: "Append an entry to the ledger",
	Example: `  ledgerctl append consent_requested --data '{"user_id":"u1","token_id":"tok_1"}'`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var data map[string]any
		if appendData != "" {
			dec := json.NewDecoder(bytes.NewReader([]byte(appendData)))
			dec.UseNumber()
			if err := dec.Decode(&data); err != nil {
				return fmt.Errorf("--data must be a JSON object: %w", err)
			}
		}

		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Append(cmd.Context(), args[0], data)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(e)
		}
		fmt.Printf("appended entry %d\n", e.Index)
		fmt.Printf("  hash:          %s\n", e.Hash)
		fmt.Printf("  previous hash: %s\n", e.PreviousHash)
		return nil
	},
}

func init() {
	appendCmd.Flags().StringVar(&appendData, "data", "", "entry payload as a JSON object")
}

// ── list ─────────────────────────────────────────────────────────────────────

var (
	listOperation string
	listText      string
	listFrom      int64
	listTo        int64
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List entries, optionally filtered",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		opts := client.ListOptions{Operation: listOperation, TextQuery: listText}
		if cmd.Flags().Changed("from") {
			opts.FromIndex = &listFrom
		}
		if cmd.Flags().Changed("to") {
			opts.ToIndexInclusive = &listTo
		}

		res, err := c.List(cmd.Context(), opts)
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(res)
		}
		if err := printEntries(res.Entries); err != nil {
			return err
		}
		fmt.Printf("\n%d of %d entries (chain length %d, %d operations)\n",
			res.Stats.Filtered, res.Stats.Total, res.Stats.ChainLength, res.Stats.Operations)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listOperation, "operation", "", "exact operation to match")
	listCmd.Flags().StringVar(&listText, "text", "", "case-insensitive text to search for")
	listCmd.Flags().Int64Var(&listFrom, "from", 0, "first index")
	listCmd.Flags().Int64Var(&listTo, "to", 0, "last index, inclusive")
}

// ── get / tail ───────────────────────────────────────────────────────────────

var getCmd = &cobra.Command{
	Use:   "get <index>",
	Short: "Show one entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var idx int64
		if _, err := fmt.Sscan(args[0], &idx); err != nil {
			return fmt.Errorf("index must be an integer: %w", err)
		}
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Get(cmd.Context(), idx)
		if err != nil {
			return err
		}
		return printEntries([]*ledger.Entry{e})
	},
}

var tailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Show the newest entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		e, err := c.Tail(cmd.Context())
		if errors.Is(err, client.ErrNotFound) {
			fmt.Println("ledger is empty")
			return nil
		}
		if err != nil {
			return err
		}
		return printEntries([]*ledger.Entry{e})
	},
}

// ── operations / status ──────────────────────────────────────────────────────

var operationsCmd = &cobra.Command{
	Use:   "operations",
	Short: "List the distinct operations in the ledger",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ops, err := c.Operations(cmd.Context())
		if err != nil {
			return err
		}
		if outFormat == "json" {
			return printJSON(ops)
		}
		for _, op := range ops {
			fmt.Println(op)
		}
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show chain length, root hash and the last background audit",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		o, err := c.Overview(ctx)
		if err != nil {
			return err
		}
		audit, err := c.Audit(ctx)
		if err != nil && !errors.Is(err, client.ErrNotFound) {
			return err
		}
		if outFormat == "json" {
			return printJSON(map[string]any{"overview": o, "audit": audit})
		}

		fmt.Printf("Entries:   %d\n", o.Entries)
		fmt.Printf("Root:      %s\n", o.Root)
		fmt.Printf("Algorithm: %s\n", o.HashAlgorithm)
		switch {
		case audit == nil:
			fmt.Println("Audit:     none yet")
		case audit.Verified:
			fmt.Printf("Audit:     verified %d entries at %s\n", audit.Length, audit.CheckedAt.Format(time.RFC3339))
		case audit.Error != "":
			fmt.Printf("Audit:     failed to read ledger: %s\n", audit.Error)
		default:
			fmt.Printf("Audit:     BROKEN at index %d (%s)\n", *audit.FailedAtIndex, audit.Reason)
		}
		return nil
	},
}

// ── version ──────────────────────────────────────────────────────────────────

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the ledgerctl version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("ledgerctl %s\n", version)
	},
}

