package pdf

import (
	"fmt"
	"os"
	"strings"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// PasswordHandler detects protected PDFs and decrypts them into a scratch directory.
type PasswordHandler struct {
	dir string
}

// NewPasswordHandler creates a handler writing decrypted copies into dir.
// An empty dir uses os.TempDir().
func NewPasswordHandler(dir string) *PasswordHandler {
	return &PasswordHandler{dir: dir}
}

// IsEncrypted reports whether filename needs a password to be read.
func (h *PasswordHandler) IsEncrypted(filename string) (bool, error) {
	// Page counting fails on files that cannot be opened without a password
	_, err := api.PageCountFile(filename)
	if err == nil {
		return false, nil
	}
	if IsPasswordError(err) {
		return true, nil
	}
	return false, fmt.Errorf("failed to check PDF encryption status: %w", err)
}

// Decrypt returns a readable path for filename. Unprotected files are
// returned unchanged; protected files are decrypted with password into a new
// file below the handler's directory, which the caller owns.
func (h *PasswordHandler) Decrypt(filename, password string) (string, error) {
	encrypted, err := h.IsEncrypted(filename)
	if err != nil {
		return "", err
	}
	if !encrypted {
		return filename, nil
	}
	if password == "" {
		return "", fmt.Errorf("%w: %s (no password configured)", ErrEncrypted, filename)
	}

	tmp, err := os.CreateTemp(h.dir, "decrypted-*.pdf")
	if err != nil {
		return "", fmt.Errorf("failed to create temporary file: %w", err)
	}
	out := tmp.Name()
	_ = tmp.Close()

	conf := model.NewDefaultConfiguration()
	conf.UserPW = password
	conf.OwnerPW = password

	if err := api.DecryptFile(filename, out, conf); err != nil {
		_ = os.Remove(out)
		return "", fmt.Errorf("%w: %s: %v", ErrEncrypted, filename, err)
	}
	return out, nil
}

// IsPasswordError reports whether err looks like an encryption or credential failure.
func IsPasswordError(err error) bool {
	if err == nil {
		return false
	}

	errStr := strings.ToLower(err.Error())
	for _, keyword := range []string{
		"password",
		"encrypted",
		"decrypt",
		"authentication",
		"unauthorized",
		"invalid credentials",
	} {
		if strings.Contains(errStr, keyword) {
			return true
		}
	}
	return false
}
