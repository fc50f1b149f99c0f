// Package cases defines the canonical support case record stored centrally,
// the normalizer that produces it from raw Support API records, and the
// last-modified-wins rule used to reconcile it with stored state.
package cases

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	json "github.com/goccy/go-json"
)

// KeySeparator joins account id and case id in the composite key.
const KeySeparator = "#"

// TimeLayout is the canonical timestamp format of stored cases.
const TimeLayout = "2006-01-02T15:04:05.000Z"

// Case is the canonical record. Field order is part of the fingerprint.
type Case struct {
	Key                  string          `json:"caseKey" dynamodbav:"caseKey"`
	AccountID            string          `json:"accountId" dynamodbav:"accountId"`
	CaseID               string          `json:"caseId" dynamodbav:"caseId"`
	DisplayID            string          `json:"displayId,omitempty" dynamodbav:"displayId,omitempty"`
	Subject              string          `json:"subject,omitempty" dynamodbav:"subject,omitempty"`
	Status               string          `json:"status,omitempty" dynamodbav:"status,omitempty"`
	SeverityCode         string          `json:"severityCode,omitempty" dynamodbav:"severityCode,omitempty"`
	ServiceCode          string          `json:"serviceCode,omitempty" dynamodbav:"serviceCode,omitempty"`
	CategoryCode         string          `json:"categoryCode,omitempty" dynamodbav:"categoryCode,omitempty"`
	SubmittedBy          string          `json:"submittedBy,omitempty" dynamodbav:"submittedBy,omitempty"`
	TimeCreated          string          `json:"timeCreated,omitempty" dynamodbav:"timeCreated,omitempty"`
	TimeLastUpdated      string          `json:"timeLastUpdated,omitempty" dynamodbav:"timeLastUpdated,omitempty"`
	LastUpdatedMs        int64           `json:"lastUpdatedMs" dynamodbav:"lastUpdatedMs"`
	Language             string          `json:"language,omitempty" dynamodbav:"language,omitempty"`
	CcEmailAddresses     []string        `json:"ccEmailAddresses,omitempty" dynamodbav:"ccEmailAddresses,omitempty"`
	RecentCommunications []Communication `json:"recentCommunications,omitempty" dynamodbav:"recentCommunications,omitempty"`
	Fingerprint          string          `json:"fingerprint,omitempty" dynamodbav:"fingerprint,omitempty"`
}

// Communication is one flattened entry of a case's recent communications.
type Communication struct {
	Timestamp   string   `json:"timestamp,omitempty" dynamodbav:"timestamp,omitempty"`
	Body        string   `json:"body,omitempty" dynamodbav:"body,omitempty"`
	SubmittedBy string   `json:"submittedBy,omitempty" dynamodbav:"submittedBy,omitempty"`
	Attachments []string `json:"attachments,omitempty" dynamodbav:"attachments,omitempty"`
}

// Key returns the composite primary key of a case. Support case ids are
// account-scoped, so the account id is always part of the key.
func Key(accountID, caseID string) string {
	return accountID + KeySeparator + caseID
}

// LastUpdated returns the case's last-modified time.
func (c Case) LastUpdated() time.Time {
	if c.LastUpdatedMs == 0 {
		return time.Time{}
	}
	return time.UnixMilli(c.LastUpdatedMs).UTC()
}

// ComputeFingerprint hashes every field except Fingerprint. Equal cases
// always produce equal fingerprints.
func (c Case) ComputeFingerprint() string {
	c.Fingerprint = ""
	data, err := json.Marshal(c)
	if err != nil {
		// Case holds only strings, ints and slices of them
		panic(err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Outcome is the result of reconciling one incoming case.
type Outcome int

const (
	Skipped Outcome = iota
	Inserted
	Updated
)

func (o Outcome) String() string {
	switch o {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// Decide applies last-modified-wins. stored is nil when no record exists.
// A strictly newer incoming record wins; at equal timestamps the incoming
// record wins only if its content differs.
func Decide(stored *Case, incoming Case) Outcome {
	switch {
	case stored == nil:
		return Inserted
	case incoming.LastUpdatedMs > stored.LastUpdatedMs:
		return Updated
	case incoming.LastUpdatedMs == stored.LastUpdatedMs && incoming.Fingerprint != stored.Fingerprint:
		return Updated
	default:
		return Skipped
	}
}
