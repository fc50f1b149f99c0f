package cases

import (
	"strings"
	"time"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	supporttypes "github.com/aws/aws-sdk-go-v2/service/support/types"
)

// RawCase is a case record as returned by the Support API.
type RawCase = supporttypes.CaseDetails

// PlaceholderStatus marks cases that could not be read because the account
// has no Business or Enterprise support plan.
const PlaceholderStatus = "unavailable: support subscription required"

// timeLayouts are tried in order when parsing Support API timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000Z0700",
	"2006-01-02T15:04:05Z0700",
	"2006-01-02 15:04:05",
}

// Normalize maps a raw case into the canonical record. It is pure: absent
// fields become empty strings and equal inputs give byte-identical output.
func Normalize(raw RawCase, accountID string) Case {
	caseID := clean(raw.CaseId)
	c := Case{
		Key:              Key(accountID, caseID),
		AccountID:        accountID,
		CaseID:           caseID,
		DisplayID:        clean(raw.DisplayId),
		Subject:          clean(raw.Subject),
		Status:           clean(raw.Status),
		SeverityCode:     clean(raw.SeverityCode),
		ServiceCode:      clean(raw.ServiceCode),
		CategoryCode:     clean(raw.CategoryCode),
		SubmittedBy:      clean(raw.SubmittedBy),
		Language:         clean(raw.Language),
		CcEmailAddresses: nonEmpty(raw.CcEmailAddresses),
	}

	created, createdOK := parseTime(clean(raw.TimeCreated))
	c.TimeCreated = formatTime(clean(raw.TimeCreated), created, createdOK)
	latest := created

	// Only the first page of communications is kept; its continuation token
	// is dropped.
	if raw.RecentCommunications != nil {
		for _, comm := range raw.RecentCommunications.Communications {
			ts, ok := parseTime(clean(comm.TimeCreated))
			if ok && ts.After(latest) {
				latest = ts
			}
			c.RecentCommunications = append(c.RecentCommunications, Communication{
				Timestamp:   formatTime(clean(comm.TimeCreated), ts, ok),
				Body:        clean(comm.Body),
				SubmittedBy: clean(comm.SubmittedBy),
				Attachments: attachmentNames(comm.AttachmentSet),
			})
		}
	}

	if !latest.IsZero() {
		c.LastUpdatedMs = latest.UnixMilli()
		c.TimeLastUpdated = latest.Format(TimeLayout)
	}
	c.Fingerprint = c.ComputeFingerprint()
	return c
}

// Placeholder builds the record stored for a case that cannot be read.
func Placeholder(accountID, caseID string) Case {
	c := Case{
		Key:       Key(accountID, caseID),
		AccountID: accountID,
		CaseID:    caseID,
		Status:    PlaceholderStatus,
	}
	c.Fingerprint = c.ComputeFingerprint()
	return c
}

func attachmentNames(set []supporttypes.AttachmentDetails) []string {
	var names []string
	for _, a := range set {
		name := clean(a.FileName)
		if name == "" {
			name = clean(a.AttachmentId)
		}
		if name != "" {
			names = append(names, name)
		}
	}
	return names
}

func clean(s *string) string {
	return strings.TrimSpace(sdkaws.ToString(s))
}

func nonEmpty(in []string) []string {
	var out []string
	for _, s := range in {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// formatTime renders parsed timestamps canonically and keeps unparseable
// ones verbatim.
func formatTime(raw string, t time.Time, ok bool) string {
	if !ok {
		return raw
	}
	return t.Format(TimeLayout)
}
