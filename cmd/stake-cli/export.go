package main

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"stakepool/integrations/exports"
	"stakepool/storage/stakestore"
)

func (c *cli) exportCmd() *cobra.Command {
	var (
		format   string
		out      string
		pageSize int
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the receipt log as csv, jsonl or parquet",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if out == "" {
				return errors.New("--out is required")
			}
			client, err := c.client()
			if err != nil {
				return err
			}
			page, err := client.AllReceipts(cmd.Context(), pageSize)
			if err != nil {
				return err
			}
			receipts := make([]stakestore.Receipt, 0, len(page))
			for _, r := range page {
				receipts = append(receipts, r.Store())
			}

			var checksum string
			switch strings.ToLower(format) {
			case "csv":
				checksum, err = writeExport(out, receipts, exports.ReceiptsCSV)
			case "jsonl":
				checksum, err = writeExport(out, receipts, exports.ReceiptsJSONL)
			case "parquet":
				err = exports.WriteReceiptsParquet(out, receipts)
			default:
				return fmt.Errorf("unsupported format %q", format)
			}
			if err != nil {
				return err
			}
			summary := map[string]interface{}{"file": out, "receipts": len(receipts)}
			if checksum != "" {
				summary["sha256"] = checksum
			}
			return c.print(summary)
		},
	}
	cmd.Flags().StringVar(&format, "format", "csv", "csv, jsonl or parquet")
	cmd.Flags().StringVar(&out, "out", "", "output file")
	cmd.Flags().IntVar(&pageSize, "page-size", 500, "receipts fetched per request")
	return cmd
}

func writeExport(path string, receipts []stakestore.Receipt, encode func([]stakestore.Receipt) ([]byte, string, error)) (string, error) {
	data, checksum, err := encode(receipts)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return "", err
	}
	return checksum, nil
}
