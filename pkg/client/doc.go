// Package client is the Go SDK for the hashledger HTTP API.
//
// # Appending
//
//	c, err := client.New("http://localhost:8080", client.WithBearerToken(tok))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	e, err := c.Append(ctx, "consent_requested", map[string]any{"user_id": "u1"})
//
// # Verifying
//
// Verify asks the server to walk its own chain. VerifyLocal downloads the
// entries and checks them on the client, which does not require trusting
// the server's verdict:
//
//	res, err := c.VerifyLocal(ctx, ledger.SHA256)
//	if err == nil && !res.Verified {
//	    log.Printf("chain broken at %d: %s", *res.FailedAtIndex, res.Reason)
//	}
package client
