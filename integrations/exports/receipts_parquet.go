package exports

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"stakepool/storage/stakestore"
)

// ReceiptRow is the parquet schema for exported receipts. Token amounts are
// INT64; values above math.MaxInt64 are rejected rather than wrapped.
type ReceiptRow struct {
	Seq         int64  `parquet:"name=seq, type=INT64"`
	ID          string `parquet:"name=id, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Operation   string `parquet:"name=operation, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Account     string `parquet:"name=account, type=UTF8, encoding=PLAIN_DICTIONARY"`
	Amount      int64  `parquet:"name=amount, type=INT64"`
	Reward      int64  `parquet:"name=reward, type=INT64"`
	Shortfall   int64  `parquet:"name=shortfall, type=INT64"`
	LockSeconds int64  `parquet:"name=lock_seconds, type=INT64"`
	At          string `parquet:"name=at, type=UTF8, encoding=PLAIN_DICTIONARY"`
}

func toRow(r stakestore.Receipt) (*ReceiptRow, error) {
	amount, err := signed(r.Amount)
	if err != nil {
		return nil, fmt.Errorf("receipt %d amount: %w", r.Seq, err)
	}
	reward, err := signed(r.Reward)
	if err != nil {
		return nil, fmt.Errorf("receipt %d reward: %w", r.Seq, err)
	}
	shortfall, err := signed(r.Shortfall)
	if err != nil {
		return nil, fmt.Errorf("receipt %d shortfall: %w", r.Seq, err)
	}
	seq, err := signed(r.Seq)
	if err != nil {
		return nil, fmt.Errorf("receipt seq: %w", err)
	}
	return &ReceiptRow{
		Seq:         seq,
		ID:          r.ID,
		Operation:   r.Operation,
		Account:     r.Account.String(),
		Amount:      amount,
		Reward:      reward,
		Shortfall:   shortfall,
		LockSeconds: int64(r.LockPeriod / time.Second),
		At:          formatTime(r.At),
	}, nil
}

func signed(v uint64) (int64, error) {
	if v > 1<<63-1 {
		return 0, fmt.Errorf("value %d exceeds INT64", v)
	}
	return int64(v), nil
}

// WriteReceiptsParquet writes receipts to a SNAPPY-compressed parquet file at
// path, replacing any existing file. The file is staged next to path and only
// renamed into place once fully written.
func WriteReceiptsParquet(path string, receipts []stakestore.Receipt) (err error) {
	file, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("exports: create parquet: %w", err)
	}
	tmp := file.Name()
	defer func() {
		if err != nil {
			file.Close()
			os.Remove(tmp)
		}
	}()

	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(ReceiptRow), 1)
	if err != nil {
		return fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, receipt := range receipts {
		row, rowErr := toRow(receipt)
		if rowErr == nil {
			rowErr = pw.Write(row)
		}
		if rowErr != nil {
			_ = pw.WriteStop()
			return fmt.Errorf("exports: parquet write: %w", rowErr)
		}
	}
	if err = pw.WriteStop(); err != nil {
		return fmt.Errorf("exports: parquet flush: %w", err)
	}
	if err = file.Close(); err != nil {
		return fmt.Errorf("exports: close parquet file: %w", err)
	}
	if err = os.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("exports: chmod parquet file: %w", err)
	}
	if err = os.Rename(tmp, path); err != nil {
		return fmt.Errorf("exports: rename parquet file: %w", err)
	}
	return nil
}
