package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strconv"
	"time"

	"stakepool/storage/stakestore"
)

// ReceiptsJSONL builds a JSON Lines export for the supplied receipts and
// returns the serialised payload alongside a checksum. Amounts are strings so
// consumers with 53-bit integers keep full precision.
func ReceiptsJSONL(receipts []stakestore.Receipt) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	encoder := json.NewEncoder(buffer)
	encoder.SetEscapeHTML(false)
	for _, r := range receipts {
		payload := map[string]interface{}{
			"seq":          r.Seq,
			"id":           r.ID,
			"operation":    r.Operation,
			"account":      r.Account.String(),
			"amount":       strconv.FormatUint(r.Amount, 10),
			"reward":       strconv.FormatUint(r.Reward, 10),
			"shortfall":    strconv.FormatUint(r.Shortfall, 10),
			"lock_seconds": int64(r.LockPeriod / time.Second),
			"at":           formatTime(r.At),
		}
		if err := encoder.Encode(payload); err != nil {
			return nil, "", err
		}
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}
