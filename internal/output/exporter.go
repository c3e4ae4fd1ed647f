package output

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"hypstar-handler/internal/model"
)

// EnsureDir creates dir if it does not exist. Calling it again is a no-op.
func EnsureDir(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "create output dir %s", dir)
	}
	return nil
}

// WriteFile persists data to path, replacing any existing file. The write is not atomic:
// a failure may leave a truncated file behind.
func WriteFile(path string, data []byte) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrapf(err, "create %s", path)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return errors.Wrapf(err, "write %s", path)
	}
	if err := f.Close(); err != nil {
		return errors.Wrapf(err, "close %s", path)
	}
	return nil
}

// WriteJSON writes capture history rows to a JSON file with pretty formatting.
func WriteJSON(path string, rows []model.Capture) error {
	b, err := json.MarshalIndent(rows, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal json")
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return errors.Wrap(err, "write json")
	}
	return nil
}

// WriteCSV flattens capture history rows into a CSV file.
// Columns: id,started_at,kind,path,entrance,radiometer,it_vnir,it_swir,observed_it_vnir,observed_it_swir,count,spectra,bytes,outcome,error
func WriteCSV(path string, rows []model.Capture) error {
	f, err := os.Create(path)
	if err != nil {
		return errors.Wrap(err, "create csv")
	}
	defer f.Close()

	w := csv.NewWriter(f)
	headers := []string{"id", "started_at", "kind", "path", "entrance", "radiometer", "it_vnir", "it_swir", "observed_it_vnir", "observed_it_swir", "count", "spectra", "bytes", "outcome", "error"}
	if err := w.Write(headers); err != nil {
		return errors.Wrap(err, "write header")
	}
	for _, c := range rows {
		rec := []string{
			c.ID,
			c.StartedAt.Format(time.RFC3339Nano),
			c.Kind,
			c.Path,
			c.Entrance,
			c.Radiometer,
			strconv.Itoa(c.ITVNIR),
			strconv.Itoa(c.ITSWIR),
			strconv.Itoa(c.ObservedITVNIR),
			strconv.Itoa(c.ObservedITSWIR),
			strconv.Itoa(c.Count),
			strconv.Itoa(c.Spectra),
			strconv.Itoa(c.Bytes),
			c.Outcome,
			c.Error,
		}
		if err := w.Write(rec); err != nil {
			return errors.Wrap(err, "write record")
		}
	}
	w.Flush()
	return w.Error()
}
