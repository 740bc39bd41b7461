package catalog

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
)

// Dataset is a named tabular input. Open is called once per ingestion and
// the returned reader is always closed.
type Dataset struct {
	Name string
	Open func() (io.ReadCloser, error)
}

// FileDataset reads a CSV file from disk, named after its base name.
func FileDataset(path string) Dataset {
	return Dataset{
		Name: filepath.Base(path),
		Open: func() (io.ReadCloser, error) { return os.Open(path) },
	}
}

// BytesDataset wraps in-memory CSV content.
func BytesDataset(name string, data []byte) Dataset {
	return Dataset{
		Name: name,
		Open: func() (io.ReadCloser, error) { return io.NopCloser(bytes.NewReader(data)), nil },
	}
}
