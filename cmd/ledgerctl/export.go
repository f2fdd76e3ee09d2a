package main

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/jmerrifield20/hashledger/internal/ledger"
	"github.com/jmerrifield20/hashledger/internal/verifier"
	"github.com/jmerrifield20/hashledger/pkg/client"
)

// ── export ───────────────────────────────────────────────────────────────────

var exportOut string

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write every entry as JSON lines",
	Long: `Export writes the whole ledger, one JSON entry per line, to stdout or --out.
The file can later be checked without the server:

  ledgerctl export --out ledger.jsonl
  ledgerctl verify --file ledger.jsonl`,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := newClient()
		if err != nil {
			return err
		}
		res, err := c.List(cmd.Context(), client.ListOptions{})
		if err != nil {
			return err
		}

		if exportOut == "" || exportOut == "-" {
			return writeJSONL(os.Stdout, res.Entries)
		}
		if err := writeJSONLFile(exportOut, res.Entries); err != nil {
			return err
		}
		fmt.Fprintf(os.Stderr, "exported %d entries to %s\n", len(res.Entries), exportOut)
		return nil
	},
}

func init() {
	exportCmd.Flags().StringVarP(&exportOut, "out", "o", "", "output file (default stdout)")
}

// writeJSONLFile creates path and writes entries to it. A failed close is
// reported, since it can mean buffered data never reached the disk.
func writeJSONLFile(path string, entries []*ledger.Entry) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close %s: %w", path, cerr)
		}
	}()
	if err := writeJSONL(f, entries); err != nil {
		return err
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("sync %s: %w", path, err)
	}
	return nil
}

func writeJSONL(w io.Writer, entries []*ledger.Entry) error {
	bw := bufio.NewWriter(w)
	enc := json.NewEncoder(bw)
	for _, e := range entries {
		if err := enc.Encode(e); err != nil {
			return fmt.Errorf("encode entry %d: %w", e.Index, err)
		}
	}
	return bw.Flush()
}

func readJSONL(r io.Reader) ([]*ledger.Entry, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 16<<20)

	var entries []*ledger.Entry
	line := 0
	for sc.Scan() {
		line++
		if len(sc.Bytes()) == 0 {
			continue
		}
		var e ledger.Entry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		entries = append(entries, &e)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read export: %w", err)
	}
	return entries, nil
}

// ── verify ───────────────────────────────────────────────────────────────────

var (
	verifyFile  string
	verifyLocal bool
	verifyHash  string
)

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify the hash chain",
	Long: `Verify checks every entry's hash and its link to the previous entry.

By default the server walks its own chain. --local downloads the entries and
checks them here. --file checks a JSON-lines export without contacting any
server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		var (
			res verifier.Result
			err error
		)
		switch {
		case verifyFile != "":
			res, err = verifyExport(verifyFile, verifyHash)
		case verifyLocal:
			res, err = verifyRemoteLocally(cmd, verifyHash)
		default:
			var r *verifier.Result
			c, cerr := newClient()
			if cerr != nil {
				return cerr
			}
			r, err = c.Verify(cmd.Context(), nil, nil)
			if r != nil {
				res = *r
			}
		}
		if err != nil {
			return err
		}

		if outFormat == "json" {
			if err := printJSON(res); err != nil {
				return err
			}
		} else if res.Verified {
			fmt.Printf("chain verified (%d entries checked)\n", res.Checked)
		} else {
			fmt.Printf("CHAIN BROKEN at index %d: %s\n", *res.FailedAtIndex, res.Reason)
		}
		return res.Err()
	},
}

func init() {
	verifyCmd.Flags().StringVar(&verifyFile, "file", "", "verify a JSON-lines export offline")
	verifyCmd.Flags().BoolVar(&verifyLocal, "local", false, "download entries and verify on this machine")
	verifyCmd.Flags().StringVar(&verifyHash, "hash", "", "hash algorithm (default: the server's, or sha256 for --file)")
}

func verifyExport(path, alg string) (verifier.Result, error) {
	h, err := ledger.HasherByName(alg)
	if err != nil {
		return verifier.Result{}, err
	}
	f, err := os.Open(path)
	if err != nil {
		return verifier.Result{}, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	entries, err := readJSONL(f)
	if err != nil {
		return verifier.Result{}, err
	}
	return verifier.Verify(entries, verifier.WithHasher(h)), nil
}

func verifyRemoteLocally(cmd *cobra.Command, alg string) (verifier.Result, error) {
	c, err := newClient()
	if err != nil {
		return verifier.Result{}, err
	}
	var h ledger.Hasher
	if alg != "" {
		if h, err = ledger.HasherByName(alg); err != nil {
			return verifier.Result{}, err
		}
	}
	res, err := c.VerifyLocal(cmd.Context(), h)
	if err != nil {
		return verifier.Result{}, err
	}
	return *res, nil
}
