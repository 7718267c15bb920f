package checksum

import (
	"bytes"
	"crypto/sha1"
	"encoding/hex"
	"io"
	"os"
	"strings"

	"golang.org/x/xerrors"
)

const (
	// Extension is appended to an artifact location to get its checksum sidecar.
	Extension = ".sha1"

	NotAvailable = "N/A"
)

// Parse extracts the SHA1 digest from the content of a .sha1 file.
func Parse(data []byte) string {
	data = bytes.TrimSpace(data)

	// Handle empty SHA1 files
	// e.g.
	//    https://repo.maven.apache.org/maven2/org/wso2/msf4j/msf4j-swagger/2.5.2/msf4j-swagger-2.5.2.jar.sha1
	if len(data) == 0 {
		return NotAvailable
	}

	// Validate SHA1 as there are xxx.jar.sha1 files with additional data.
	// e.g.
	//   https://repo.maven.apache.org/maven2/aspectj/aspectjrt/1.5.2a/aspectjrt-1.5.2a.jar.sha1
	//   https://repo.maven.apache.org/maven2/xerces/xercesImpl/2.9.0/xercesImpl-2.9.0.jar.sha1
	for _, part := range strings.Fields(string(data)) {
		if len(part) == 40 && isHexString(part) {
			return strings.ToLower(part)
		}
	}
	return NotAvailable
}

// Sum returns the hex SHA1 of everything read from r.
func Sum(r io.Reader) (string, error) {
	h := sha1.New()
	if _, err := io.Copy(h, r); err != nil {
		return "", xerrors.Errorf("sha1 error: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// SumFile returns the hex SHA1 of a file.
func SumFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", xerrors.Errorf("unable to open %s: %w", path, err)
	}
	defer f.Close()
	return Sum(f)
}

// isHexString checks if a string contains only hex characters
func isHexString(s string) bool {
	for _, c := range s {
		if !((c >= '0' && c <= '9') || (c >= 'a' && c <= 'f') || (c >= 'A' && c <= 'F')) {
			return false
		}
	}
	return true
}
