package domain

import (
	"strconv"
	"strings"

	dErrors "certreg/pkg/domain-errors"
)

// CertificateID identifies a certificate. Ids are assigned sequentially from 1;
// zero never names a certificate.
type CertificateID uint64

// ParseCertificateID parses a positive decimal id.
//
// Errors: CodeInvalidInput for empty, non-decimal, zero or out-of-range input.
func ParseCertificateID(s string) (CertificateID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "certificate id is required")
	}
	n, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "certificate id must be a positive integer")
	}
	if n == 0 {
		return 0, dErrors.New(dErrors.CodeInvalidInput, "certificate id must be a positive integer")
	}
	return CertificateID(n), nil
}

func (c CertificateID) String() string {
	return strconv.FormatUint(uint64(c), 10)
}
