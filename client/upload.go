package client

import (
	"errors"
	"fmt"
	"strings"
)

// ErrDisallowedExtension rejects manual uploads outside the allowlist
// before any network call is made.
var ErrDisallowedExtension = errors.New("client: only .java, .py, and .txt files are allowed")

var allowedUploadExtensions = []string{".java", ".py", ".txt"}

// ValidateUploadName checks the upload allowlist by file extension.
func ValidateUploadName(name string) error {
	lowered := strings.ToLower(name)
	for _, extension := range allowedUploadExtensions {
		if strings.HasSuffix(lowered, extension) {
			return nil
		}
	}
	return fmt.Errorf("%w: %s", ErrDisallowedExtension, name)
}
