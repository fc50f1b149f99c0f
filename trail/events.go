package trail

import (
	"fmt"
	"slices"
	"sort"

	json "github.com/goccy/go-json"

	"github.com/Snapchat/aws-support-tickets-aggregator/reconcile"
)

// Support API calls that change a case.
const (
	EventCreateCase             = "CreateCase"
	EventResolveCase            = "ResolveCase"
	EventAddCommunicationToCase = "AddCommunicationToCase"
)

// IsCaseEvent reports whether an event name changes a support case.
func IsCaseEvent(name string) bool {
	switch name {
	case EventCreateCase, EventResolveCase, EventAddCommunicationToCase:
		return true
	default:
		return false
	}
}

type caseRef struct {
	CaseID string `json:"caseId"`
}

// Event is the subset of a CloudTrail record the processor reads.
type Event struct {
	EventID            string   `json:"eventID"`
	EventName          string   `json:"eventName"`
	EventSource        string   `json:"eventSource"`
	RecipientAccountID string   `json:"recipientAccountId"`
	RequestParameters  *caseRef `json:"requestParameters"`
	ResponseElements   *caseRef `json:"responseElements"`
}

// CaseID returns the case id from the response, falling back to the
// request parameters.
func (e Event) CaseID() string {
	if e.ResponseElements != nil && e.ResponseElements.CaseID != "" {
		return e.ResponseElements.CaseID
	}
	if e.RequestParameters != nil {
		return e.RequestParameters.CaseID
	}
	return ""
}

type logFile struct {
	Records []Event `json:"Records"`
}

// DecodeLog decodes one CloudTrail log document.
func DecodeLog(data []byte) ([]Event, error) {
	var f logFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return f.Records, nil
}

// CaseSet groups case ids by the account that owns them.
type CaseSet struct {
	byAccount map[string]map[string]struct{}
}

// NewCaseSet returns an empty set.
func NewCaseSet() *CaseSet {
	return &CaseSet{byAccount: make(map[string]map[string]struct{})}
}

// Add records the case changed by e. It returns false when e is not a case
// event or carries no account or case id.
func (s *CaseSet) Add(e Event) bool {
	if !IsCaseEvent(e.EventName) {
		return false
	}
	id := e.CaseID()
	if id == "" || e.RecipientAccountID == "" {
		return false
	}
	ids, ok := s.byAccount[e.RecipientAccountID]
	if !ok {
		ids = make(map[string]struct{})
		s.byAccount[e.RecipientAccountID] = ids
	}
	ids[id] = struct{}{}
	return true
}

// Len returns the number of distinct cases.
func (s *CaseSet) Len() int {
	n := 0
	for _, ids := range s.byAccount {
		n += len(ids)
	}
	return n
}

// Targets returns one refresh target per account, sorted by account and
// case id.
func (s *CaseSet) Targets() []reconcile.Target {
	targets := make([]reconcile.Target, 0, len(s.byAccount))
	for account, ids := range s.byAccount {
		caseIDs := make([]string, 0, len(ids))
		for id := range ids {
			caseIDs = append(caseIDs, id)
		}
		slices.Sort(caseIDs)
		targets = append(targets, reconcile.Target{AccountID: account, CaseIDs: caseIDs})
	}
	sort.Slice(targets, func(i, j int) bool { return targets[i].AccountID < targets[j].AccountID })
	return targets
}
