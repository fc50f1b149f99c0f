// Package preflight verifies that the aggregator's identity is allowed to
// call the APIs a run needs, before any account is touched.
package preflight

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	sdkaws "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"
	"github.com/aws/aws-sdk-go-v2/service/sts"

	awsclient "github.com/Snapchat/aws-support-tickets-aggregator/aws"
)

// ErrNoActions is returned when there is nothing to check.
var ErrNoActions = errors.New("no actions to check")

// Decision is the evaluation of one action.
type Decision struct {
	Action   string
	Decision string
}

// Allowed reports whether the action is permitted.
func (d Decision) Allowed() bool {
	return d.Decision == string(iamtypes.PolicyEvaluationDecisionTypeAllowed)
}

// Result lists the decision for every checked action.
type Result struct {
	Principal string
	Decisions []Decision
}

// Denied returns the actions that were not allowed, sorted.
func (r Result) Denied() []string {
	var denied []string
	for _, d := range r.Decisions {
		if !d.Allowed() {
			denied = append(denied, d.Action)
		}
	}
	slices.Sort(denied)
	return denied
}

// OK reports whether every action is allowed.
func (r Result) OK() bool {
	return len(r.Denied()) == 0
}

func (r Result) String() string {
	if r.OK() {
		return fmt.Sprintf("%s: all %d actions allowed", r.Principal, len(r.Decisions))
	}
	return fmt.Sprintf("%s: denied %s", r.Principal, strings.Join(r.Denied(), ", "))
}

// Checker simulates the principal's policies.
type Checker struct {
	sts awsclient.STSClient
	iam awsclient.IAMClient
}

// NewChecker creates a Checker.
func NewChecker(stsClient awsclient.STSClient, iamClient awsclient.IAMClient) *Checker {
	return &Checker{sts: stsClient, iam: iamClient}
}

// Check evaluates actions for principalARN. An empty principalARN checks
// the caller identity. Actions missing from the simulation response are
// reported as implicitly denied.
func (c *Checker) Check(ctx context.Context, principalARN string, actions []string) (Result, error) {
	if len(actions) == 0 {
		return Result{}, ErrNoActions
	}

	if principalARN == "" {
		out, err := c.sts.GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
		if err != nil {
			return Result{}, fmt.Errorf("failed to get caller identity: %w", err)
		}
		principalARN = PrincipalARN(sdkaws.ToString(out.Arn))
	}

	decided := make(map[string]string, len(actions))
	paginator := iam.NewSimulatePrincipalPolicyPaginator(c.iam, &iam.SimulatePrincipalPolicyInput{
		PolicySourceArn: sdkaws.String(principalARN),
		ActionNames:     actions,
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("failed to simulate policy for %s: %w", principalARN, err)
		}
		for _, r := range page.EvaluationResults {
			decided[sdkaws.ToString(r.EvalActionName)] = string(r.EvalDecision)
		}
	}

	result := Result{Principal: principalARN}
	for _, action := range actions {
		decision, ok := decided[action]
		if !ok {
			decision = string(iamtypes.PolicyEvaluationDecisionTypeImplicitDeny)
		}
		result.Decisions = append(result.Decisions, Decision{Action: action, Decision: decision})
	}
	return result, nil
}

// PrincipalARN converts an STS assumed-role ARN into the IAM role ARN the
// policy simulator accepts. Other ARNs are returned unchanged. The role
// path is not recoverable from an assumed-role ARN.
func PrincipalARN(callerARN string) string {
	parts := strings.SplitN(callerARN, ":", 6)
	if len(parts) != 6 || parts[2] != "sts" {
		return callerARN
	}
	resource := strings.Split(parts[5], "/")
	if len(resource) < 2 || resource[0] != "assumed-role" {
		return callerARN
	}
	return fmt.Sprintf("arn:%s:iam::%s:role/%s", parts[1], parts[4], resource[1])
}
