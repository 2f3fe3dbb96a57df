package providers

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"

	"github.com/spf13/afero"
)

func flushResponse(resp *http.Response) {
	io.Copy(io.Discard, resp.Body) // nolint: errcheck
	resp.Body.Close()
}

// readFile returns a content of the file and its sha256 checksum.
func readFile(fs afero.Fs, path string) ([]byte, string, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, "", fmt.Errorf("cannot read %s: %w", path, err)
	}

	checksum := sha256.Sum256(data)

	return data, hex.EncodeToString(checksum[:]), nil
}
