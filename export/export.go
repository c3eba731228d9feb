package export

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"vestchain/indexer"
)

var csvHeader = []string{"sequence", "id", "type", "beneficiary", "amount", "action_id", "attributes", "created_at"}

// Manifest describes one export run.
type Manifest struct {
	Rows          int    `json:"rows"`
	CSVPath       string `json:"csvPath"`
	CSVSHA256     string `json:"csvSha256"`
	ParquetPath   string `json:"parquetPath"`
	ParquetSHA256 string `json:"parquetSha256"`
}

// WriteFiles writes <name>.csv and <name>.parquet into dir.
func WriteFiles(dir, name string, records []indexer.EventRecord) (*Manifest, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("export: create dir: %w", err)
	}
	manifest := &Manifest{
		Rows:        len(records),
		CSVPath:     filepath.Join(dir, name+".csv"),
		ParquetPath: filepath.Join(dir, name+".parquet"),
	}

	file, err := os.Create(manifest.CSVPath)
	if err != nil {
		return nil, fmt.Errorf("export: create csv: %w", err)
	}
	sum, err := WriteCSV(file, records)
	if closeErr := file.Close(); err == nil && closeErr != nil {
		err = fmt.Errorf("export: close csv: %w", closeErr)
	}
	if err != nil {
		return nil, err
	}
	manifest.CSVSHA256 = sum

	if manifest.ParquetSHA256, err = WriteParquet(manifest.ParquetPath, records); err != nil {
		return nil, err
	}
	return manifest, nil
}

// WriteCSV streams records to w and returns the hex sha256 of the bytes written.
func WriteCSV(w io.Writer, records []indexer.EventRecord) (string, error) {
	digest := sha256.New()
	cw := csv.NewWriter(io.MultiWriter(w, digest))
	if err := cw.Write(csvHeader); err != nil {
		return "", fmt.Errorf("export: write csv header: %w", err)
	}
	for _, rec := range records {
		row := []string{
			strconv.FormatUint(rec.Sequence, 10),
			rec.ID.String(),
			rec.Type,
			rec.Beneficiary,
			rec.Amount,
			rec.ActionID,
			rec.Attributes,
			rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := cw.Write(row); err != nil {
			return "", fmt.Errorf("export: write csv row: %w", err)
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		return "", fmt.Errorf("export: flush csv: %w", err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}

type parquetRow struct {
	Sequence    int64  `parquet:"name=sequence, type=INT64"`
	ID          string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Type        string `parquet:"name=type, type=BYTE_ARRAY, convertedtype=UTF8"`
	Beneficiary string `parquet:"name=beneficiary, type=BYTE_ARRAY, convertedtype=UTF8"`
	Amount      string `parquet:"name=amount, type=BYTE_ARRAY, convertedtype=UTF8"`
	ActionID    string `parquet:"name=action_id, type=BYTE_ARRAY, convertedtype=UTF8"`
	Attributes  string `parquet:"name=attributes, type=BYTE_ARRAY, convertedtype=UTF8"`
	CreatedAt   string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// WriteParquet writes records to path and returns the hex sha256 of the file.
func WriteParquet(path string, records []indexer.EventRecord) (string, error) {
	file, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("export: create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetRow), 1)
	if err != nil {
		file.Close()
		return "", fmt.Errorf("export: parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := &parquetRow{
			Sequence:    int64(rec.Sequence),
			ID:          rec.ID.String(),
			Type:        rec.Type,
			Beneficiary: rec.Beneficiary,
			Amount:      rec.Amount,
			ActionID:    rec.ActionID,
			Attributes:  rec.Attributes,
			CreatedAt:   rec.CreatedAt.UTC().Format(time.RFC3339),
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			file.Close()
			return "", fmt.Errorf("export: parquet write: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return "", fmt.Errorf("export: parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return "", fmt.Errorf("export: close parquet file: %w", err)
	}
	return fileSHA256(path)
}

func fileSHA256(path string) (string, error) {
	file, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("export: reopen %s: %w", path, err)
	}
	defer file.Close()
	digest := sha256.New()
	if _, err := io.Copy(digest, file); err != nil {
		return "", fmt.Errorf("export: hash %s: %w", path, err)
	}
	return hex.EncodeToString(digest.Sum(nil)), nil
}
