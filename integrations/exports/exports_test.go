package exports

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"

	"stakepool/crypto"
	"stakepool/storage/stakestore"
)

func sampleReceipts() []stakestore.Receipt {
	owner := crypto.DeriveAddressString("exports-test", "alice")
	at := time.Date(2024, 4, 1, 12, 0, 0, 0, time.UTC)
	return []stakestore.Receipt{
		{Seq: 1, ID: "a", Operation: "stake", Account: owner, Amount: 100, LockPeriod: 30 * 24 * time.Hour, At: at},
		{Seq: 2, ID: "b", Operation: "unstakeAndClaim", Account: owner, Amount: 100, Reward: 50, Shortfall: 53, At: at.Add(31 * 24 * time.Hour)},
	}
}

func TestReceiptsCSV(t *testing.T) {
	data, checksum, err := ReceiptsCSV(sampleReceipts())
	if err != nil {
		t.Fatalf("csv: %v", err)
	}
	if len(data) == 0 || checksum == "" {
		t.Fatalf("expected data and checksum")
	}
	output := string(data)
	if !strings.HasPrefix(output, "seq,id,operation,account,amount,reward,shortfall,lock_seconds,at\n") {
		t.Fatalf("missing header: %s", output)
	}
	if !strings.Contains(output, ",2592000,") {
		t.Fatalf("missing lock seconds: %s", output)
	}
	again, sum2, _ := ReceiptsCSV(sampleReceipts())
	if string(again) != output || sum2 != checksum {
		t.Fatalf("export is not deterministic")
	}
}

func TestReceiptsJSONL(t *testing.T) {
	data, checksum, err := ReceiptsJSONL(sampleReceipts())
	if err != nil {
		t.Fatalf("jsonl: %v", err)
	}
	if checksum == "" {
		t.Fatalf("expected checksum")
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	if !strings.Contains(lines[1], "\"shortfall\":\"53\"") {
		t.Fatalf("unexpected payload: %s", lines[1])
	}
}

func TestWriteReceiptsParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.parquet")
	if err := WriteReceiptsParquet(path, sampleReceipts()); err != nil {
		t.Fatalf("write: %v", err)
	}

	fr, err := local.NewLocalFileReader(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(ReceiptRow), 1)
	if err != nil {
		t.Fatalf("reader: %v", err)
	}
	defer pr.ReadStop()
	if pr.GetNumRows() != 2 {
		t.Fatalf("expected 2 rows, got %d", pr.GetNumRows())
	}
	rows := make([]ReceiptRow, 2)
	if err := pr.Read(&rows); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rows[1].Reward != 50 || rows[1].Shortfall != 53 || rows[0].LockSeconds != 2592000 {
		t.Fatalf("unexpected rows %+v", rows)
	}
	owner := crypto.DeriveAddressString("exports-test", "alice").String()
	if rows[0].ID != "a" || rows[0].Operation != "stake" || rows[0].Account != owner {
		t.Fatalf("string columns not round-tripped: %+v", rows[0])
	}
	if rows[1].Operation != "unstakeAndClaim" || rows[1].At != "2024-05-02T12:00:00Z" {
		t.Fatalf("string columns not round-tripped: %+v", rows[1])
	}
}

func TestWriteReceiptsParquetSingleRow(t *testing.T) {
	path := filepath.Join(t.TempDir(), "one.parquet")
	receipt := stakestore.Receipt{Seq: 7, ID: "x", Operation: "initialize"}
	if err := WriteReceiptsParquet(path, []stakestore.Receipt{receipt}); err != nil {
		t.Fatalf("write: %v", err)
	}
	if info, err := os.Stat(path); err != nil || info.Size() == 0 {
		t.Fatalf("expected a non-empty parquet file, got %v", err)
	}
}

func TestWriteReceiptsParquetRejectsOversizedAmounts(t *testing.T) {
	receipts := sampleReceipts()
	receipts[0].Amount = 1 << 63
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.parquet")
	if err := WriteReceiptsParquet(path, receipts); err == nil {
		t.Fatalf("expected error for amount beyond INT64")
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("failed export left a file behind: %v", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("failed export left temp files: %d", len(entries))
	}
}

func TestWriteReceiptsParquetKeepsExistingFileOnFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "receipts.parquet")
	if err := os.WriteFile(path, []byte("previous"), 0o600); err != nil {
		t.Fatalf("seed: %v", err)
	}
	receipts := sampleReceipts()
	receipts[1].Reward = 1 << 63
	if err := WriteReceiptsParquet(path, receipts); err == nil {
		t.Fatalf("expected error for reward beyond INT64")
	}
	data, err := os.ReadFile(path)
	if err != nil || string(data) != "previous" {
		t.Fatalf("existing export clobbered: %q, %v", data, err)
	}
}
