package models

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
)

const (
	org       = id.Identity("0xfb6916095ca1df60bb79ce92ce3ea74c37c5d359")
	recipient = id.Identity("0xdbf03b407c01e7cd3cbea99509d93f8dddc8c6fb")
)

func TestIssueRequest(t *testing.T) {
	tests := []struct {
		name string
		req  IssueRequest
		code dErrors.Code
	}{
		{"null recipient", IssueRequest{Recipient: id.ZeroIdentity, Name: "A", Course: "B"}, dErrors.CodeInvalidInput},
		{"empty recipient", IssueRequest{Name: "A", Course: "B"}, dErrors.CodeInvalidInput},
		{"blank name", IssueRequest{Recipient: recipient, Name: "   ", Course: "B"}, dErrors.CodeInvalidInput},
		{"blank course", IssueRequest{Recipient: recipient, Name: "A", Course: "\t"}, dErrors.CodeInvalidInput},
		{"name too long", IssueRequest{Recipient: recipient, Name: strings.Repeat("n", 257), Course: "B"}, dErrors.CodeInvalidInput},
		{"course too long", IssueRequest{Recipient: recipient, Name: "A", Course: strings.Repeat("é", 257)}, dErrors.CodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := tt.req
			req.Normalize()
			err := req.Validate()
			require.Error(t, err)
			assert.True(t, dErrors.HasCode(err, tt.code), "got %v", err)
		})
	}

	t.Run("normalizes and accepts multibyte names at the limit", func(t *testing.T) {
		req := IssueRequest{Recipient: recipient, Name: "  " + strings.Repeat("é", 256) + " ", Course: " Go 101 "}
		req.Normalize()
		require.NoError(t, req.Validate())
		assert.Equal(t, "Go 101", req.Course)
	})
}

func TestNewCertificate(t *testing.T) {
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	c, err := NewCertificate(1, org, recipient, "Alice", "Go", at)
	require.NoError(t, err)
	assert.Equal(t, id.CertificateID(1), c.ID)

	_, err = NewCertificate(0, org, recipient, "Alice", "Go", at)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewCertificate(1, id.ZeroIdentity, recipient, "Alice", "Go", at)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewCertificate(1, org, recipient, "Alice", "Go", time.Time{})
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvariantViolation))

	_, err = NewCertificate(1, org, recipient, "", "Go", at)
	assert.True(t, dErrors.HasCode(err, dErrors.CodeInvalidInput))
}
