package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmerrifield20/hashledger/internal/auth"
)

var (
	tokenSecret  string
	tokenIssuer  string
	tokenSubject string
	tokenTTL     time.Duration
)

var tokenCmd = &cobra.Command{
	Use:   "token",
	Short: "Mint a caller token for appends",
	Long: `Token signs a caller token with the server's auth.jwt_secret.
The secret may also come from HASHLEDGER_JWT_SECRET or the config file.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		secret := tokenSecret
		if secret == "" {
			secret = viper.GetString("jwt_secret")
		}
		if secret == "" {
			return errors.New("a signing secret is required (--secret or HASHLEDGER_JWT_SECRET)")
		}
		if tokenTTL <= 0 {
			return errors.New("--ttl must be positive")
		}

		tok, err := auth.NewIssuer(secret, tokenIssuer, tokenTTL).Issue(tokenSubject)
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}

func init() {
	tokenCmd.Flags().StringVar(&tokenSecret, "secret", "", "HS256 signing secret")
	tokenCmd.Flags().StringVar(&tokenIssuer, "issuer", "hashledger", "token issuer, must match the server's auth.issuer")
	tokenCmd.Flags().StringVar(&tokenSubject, "subject", "ledgerctl", "caller name recorded in server logs")
	tokenCmd.Flags().DurationVar(&tokenTTL, "ttl", 24*time.Hour, "token lifetime")
}
