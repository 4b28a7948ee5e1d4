package validation

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// SHA256Hex считает SHA-256 по всему потоку и возвращает hex в нижнем регистре
func SHA256Hex(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("failed to hash stream: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ChecksumMatches сравнивает контрольные суммы без учета регистра
func ChecksumMatches(actual, declared string) bool {
	declared = strings.TrimSpace(declared)
	return declared != "" && strings.EqualFold(actual, declared)
}

// ValidChecksum проверяет формат: 64 hex-символа
func ValidChecksum(s string) bool {
	if len(s) != sha256.Size*2 {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
