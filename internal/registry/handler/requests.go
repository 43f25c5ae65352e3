package handler

import (
	"encoding/json"
	"strings"

	id "certreg/pkg/domain"
	dErrors "certreg/pkg/domain-errors"
)

// IssueRequest is the body of POST /v1/certificates.
type IssueRequest struct {
	Recipient string `json:"recipient"`
	Name      string `json:"name"`
	Course    string `json:"course"`

	// Populated by Validate. A malformed recipient is reported only after the
	// service has authorized the caller.
	parsedRecipient id.Identity
	recipientErr    error
}

// Validate parses the recipient. Field rules are enforced by the ledger so
// that authorization is decided first.
func (r *IssueRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	recipient, err := id.ParseIdentity(r.Recipient)
	if err != nil {
		// The ledger reports a bad recipient as invalid input; keep the
		// parse detail in the message.
		r.recipientErr = dErrors.Wrap(err, dErrors.CodeInvalidInput, "recipient must be a valid address")
		return nil
	}
	r.parsedRecipient = recipient
	return nil
}

// BatchRequest is the body of POST /v1/certificates/batch. Ids may be JSON
// numbers or decimal strings; any other element is answered as missing.
type BatchRequest struct {
	IDs []json.RawMessage `json:"ids"`

	parsedIDs []id.CertificateID
	raw       []string
}

// Validate parses every id. Unparsable ids map to 0, which never names a
// certificate, so they come back with exists=false in place.
func (r *BatchRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request body is required")
	}
	r.parsedIDs = make([]id.CertificateID, len(r.IDs))
	r.raw = make([]string, len(r.IDs))
	for i, elem := range r.IDs {
		text := batchElementText(elem)
		r.raw[i] = text
		if certID, err := id.ParseCertificateID(text); err == nil {
			r.parsedIDs[i] = certID
		}
	}
	return nil
}

// batchElementText returns the id text of one element: the digits of a
// number, the contents of a string, or the raw JSON of anything else.
func batchElementText(elem json.RawMessage) string {
	var s string
	if err := json.Unmarshal(elem, &s); err == nil {
		return s
	}
	return strings.TrimSpace(string(elem))
}

func (r *BatchRequest) rawIDs() []string {
	return r.raw
}
