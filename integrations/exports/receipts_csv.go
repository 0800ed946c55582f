package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"stakepool/storage/stakestore"
)

var receiptHeader = []string{"seq", "id", "operation", "account", "amount", "reward", "shortfall", "lock_seconds", "at"}

// ReceiptsCSV builds a CSV export for the supplied receipts and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func ReceiptsCSV(receipts []stakestore.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	if err := writer.Write(receiptHeader); err != nil {
		return nil, "", err
	}
	for _, r := range receipts {
		record := []string{
			strconv.FormatUint(r.Seq, 10),
			r.ID,
			r.Operation,
			r.Account.String(),
			strconv.FormatUint(r.Amount, 10),
			strconv.FormatUint(r.Reward, 10),
			strconv.FormatUint(r.Shortfall, 10),
			strconv.FormatInt(int64(r.LockPeriod/time.Second), 10),
			formatTime(r.At),
		}
		if err := writer.Write(record); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}
