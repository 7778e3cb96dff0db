package processing

import (
	"bytes"
	"encoding/csv"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"go.uber.org/multierr"

	"sleepywoodpecker/sensor-stream/internal/sensor"
)

var ErrStorage = errors.New("storage error")

var CSVHeader = []string{"Timestamp", "X", "Y", "Z"}

// CSVStore is the append only record store of one sensor type. Each AppendBatch is a
// single write; if it fails the file is truncated back to where it was, so a batch
// is either fully on disk or not at all.
type CSVStore struct {
	Filename string
	mu       sync.Mutex
}

func NewCSVStore(dataDir string, sensorType sensor.Type) *CSVStore {
	return &CSVStore{
		Filename: filepath.Join(dataDir, sensorType.ID()+"_data.csv"),
	}
}

// EnsureInitialized creates the file with its header row. An existing file is left
// alone, so the header is only ever written once.
func (c *CSVStore) EnsureInitialized() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.Filename), 0755); err != nil {
		return fmt.Errorf("%w: create data dir: %w", ErrStorage, err)
	}

	file, err := os.OpenFile(c.Filename, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if errors.Is(err, fs.ErrExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("%w: create %s: %w", ErrStorage, c.Filename, err)
	}

	header, err := encodeRows([][]string{CSVHeader})
	if err == nil {
		_, err = file.Write(header)
	}
	err = multierr.Append(err, file.Close())
	if err != nil {
		return fmt.Errorf("%w: write header to %s: %w", ErrStorage, c.Filename, err)
	}

	return nil
}

func (c *CSVStore) AppendBatch(samples []sensor.Sample) error {
	if len(samples) == 0 {
		return nil
	}

	rows := make([][]string, 0, len(samples))
	for _, s := range samples {
		rows = append(rows, []string{
			formatFloat(s.Timestamp),
			formatFloat(s.X),
			formatFloat(s.Y),
			formatFloat(s.Z),
		})
	}

	payload, err := encodeRows(rows)
	if err != nil {
		return fmt.Errorf("%w: encode batch: %w", ErrStorage, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	file, err := os.OpenFile(c.Filename, os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return fmt.Errorf("%w: open %s: %w", ErrStorage, c.Filename, err)
	}

	info, err := file.Stat()
	if err != nil {
		return multierr.Append(fmt.Errorf("%w: stat %s: %w", ErrStorage, c.Filename, err), file.Close())
	}

	if _, err := file.Write(payload); err != nil {
		// roll back the partial write so the file never ends in half a row
		err = multierr.Append(err, file.Truncate(info.Size()))
		return multierr.Append(fmt.Errorf("%w: append to %s: %w", ErrStorage, c.Filename, err), file.Close())
	}

	if err := file.Close(); err != nil {
		return fmt.Errorf("%w: close %s: %w", ErrStorage, c.Filename, err)
	}

	return nil
}

func encodeRows(rows [][]string) ([]byte, error) {
	var buf bytes.Buffer
	writer := csv.NewWriter(&buf)
	if err := writer.WriteAll(rows); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
