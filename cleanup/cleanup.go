// Package cleanup prunes old GitHub Actions workflow runs so the
// scheduled bot does not accumulate unbounded run history.
package cleanup

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/google/go-github/v66/github"
)

// Policy selects runs for deletion: runs with Status older than
// MaxAge. A zero MaxAge deletes runs of that status regardless of age.
type Policy struct {
	Status string
	MaxAge time.Duration
}

// DefaultPolicies mirrors the retention tiers the deployment has
// always used: successful runs kept 5 days, failures 15 days for
// debugging, cancelled runs deleted unconditionally.
var DefaultPolicies = []Policy{
	{Status: "success", MaxAge: 5 * 24 * time.Hour},
	{Status: "failure", MaxAge: 15 * 24 * time.Hour},
	{Status: "cancelled"},
}

// Outcome summarizes one cleanup invocation.
type Outcome struct {
	Deleted     map[string]int
	RateLimited bool
}

// Runner deletes old workflow runs for one workflow file.
type Runner struct {
	client   *github.Client
	owner    string
	repo     string
	workflow string
	policies []Policy
	now      func() time.Time
}

func NewRunner(client *github.Client, owner, repo, workflow string) *Runner {
	return &Runner{
		client:   client,
		owner:    owner,
		repo:     repo,
		workflow: workflow,
		policies: DefaultPolicies,
		now:      time.Now,
	}
}

// Run applies every policy in order. A 403 from the API means we hit
// the rate limit: remaining deletions are abandoned for this
// invocation and the outcome is flagged, not treated as an error.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	out := Outcome{Deleted: map[string]int{}}
	for _, p := range r.policies {
		ids, err := r.collect(ctx, p)
		if err != nil {
			if isRateLimited(err) {
				log.Printf("[Cleanup] Rate limit reached, stopping cleanup")
				out.RateLimited = true
				return out, nil
			}
			return out, fmt.Errorf("failed to list %s runs: %w", p.Status, err)
		}
		for _, id := range ids {
			_, err := r.client.Actions.DeleteWorkflowRun(ctx, r.owner, r.repo, id)
			if err != nil {
				if isRateLimited(err) {
					log.Printf("[Cleanup] Rate limit reached, stopping cleanup")
					out.RateLimited = true
					return out, nil
				}
				return out, fmt.Errorf("failed to delete run %d: %w", id, err)
			}
			out.Deleted[p.Status]++
		}
	}
	return out, nil
}

// collect pages through the workflow's runs with the policy's status
// filter and returns the ids old enough to delete.
func (r *Runner) collect(ctx context.Context, p Policy) ([]int64, error) {
	cutoff := r.now().Add(-p.MaxAge)
	opts := &github.ListWorkflowRunsOptions{
		Status:      p.Status,
		ListOptions: github.ListOptions{PerPage: 100},
	}

	var ids []int64
	for {
		runs, resp, err := r.client.Actions.ListWorkflowRunsByFileName(ctx, r.owner, r.repo, r.workflow, opts)
		if err != nil {
			return nil, err
		}
		for _, run := range runs.WorkflowRuns {
			if p.MaxAge == 0 || run.GetCreatedAt().Time.Before(cutoff) {
				ids = append(ids, run.GetID())
			}
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return ids, nil
}

func isRateLimited(err error) bool {
	if _, ok := err.(*github.RateLimitError); ok {
		return true
	}
	if _, ok := err.(*github.AbuseRateLimitError); ok {
		return true
	}
	if er, ok := err.(*github.ErrorResponse); ok && er.Response != nil {
		return er.Response.StatusCode == http.StatusForbidden
	}
	return false
}
