// Copyright 2026 Teradata
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.
package trigger

import (
	"context"
	"fmt"
	"strconv"
	"time"

	gogithub "github.com/google/go-github/v69/github"
	"go.uber.org/zap"
)

// githubPageSize bounds issues fetched per poll.
const githubPageSize = 50

// GitHubConfig describes one repository to watch for issue activity.
type GitHubConfig struct {
	Owner string `yaml:"owner" mapstructure:"owner"`
	Repo  string `yaml:"repo" mapstructure:"repo"`
	Token string `yaml:"token,omitempty" mapstructure:"token"`

	// Labels filters to issues carrying any of these labels.
	Labels []string `yaml:"labels,omitempty" mapstructure:"labels"`
}

// GitHub fires one event per open issue updated since the cursor.
type GitHub struct {
	name    string
	payload string
	cfg     GitHubConfig
	client  *gogithub.Client
	logger  *zap.Logger
}

// NewGitHub creates the repository source. An empty token falls back to
// unauthenticated access (rate-limited by GitHub).
func NewGitHub(name string, cfg GitHubConfig, payload string, logger *zap.Logger) *GitHub {
	client := gogithub.NewClient(nil)
	if cfg.Token != "" {
		client = client.WithAuthToken(cfg.Token)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GitHub{name: name, payload: payload, cfg: cfg, client: client, logger: logger}
}

func (t *GitHub) Name() string { return t.name }

// Poll lists open issues updated since the cursor, oldest first, and
// advances the cursor to the newest update seen. The first poll anchors
// the cursor without firing so existing issues are not replayed.
func (t *GitHub) Poll(ctx context.Context, cursor string) ([]Event, string, error) {
	now := time.Now().UTC()
	if cursor == "" {
		return nil, now.Format(time.RFC3339), nil
	}
	since, err := time.Parse(time.RFC3339, cursor)
	if err != nil {
		return nil, now.Format(time.RFC3339), nil
	}

	opts := &gogithub.IssueListByRepoOptions{
		State:     "open",
		Since:     since,
		Sort:      "updated",
		Direction: "asc",
		Labels:    t.cfg.Labels,
		ListOptions: gogithub.ListOptions{
			PerPage: githubPageSize,
		},
	}

	issues, resp, err := t.client.Issues.ListByRepo(ctx, t.cfg.Owner, t.cfg.Repo, opts)
	if err != nil {
		return nil, cursor, fmt.Errorf("trigger %s: list issues %s/%s: %w",
			t.name, t.cfg.Owner, t.cfg.Repo, err)
	}
	if resp != nil && resp.Rate.Remaining < 100 {
		t.logger.Warn("github trigger rate limit low",
			zap.String("trigger", t.name),
			zap.Int("remaining", resp.Rate.Remaining))
	}

	var events []Event
	newest := since
	for _, issue := range issues {
		updated := issue.GetUpdatedAt().Time
		// Since is inclusive on the GitHub side; skip the boundary.
		if !updated.After(since) {
			continue
		}
		if updated.After(newest) {
			newest = updated
		}

		kind := "issue"
		if issue.IsPullRequest() {
			kind = "pull request"
		}
		events = append(events, Event{
			Payload: fmt.Sprintf("%s\n\nGitHub %s #%d in %s/%s updated: %s",
				t.payload, kind, issue.GetNumber(), t.cfg.Owner, t.cfg.Repo, issue.GetTitle()),
			Metadata: map[string]string{
				"number": strconv.Itoa(issue.GetNumber()),
				"kind":   kind,
				"url":    issue.GetHTMLURL(),
			},
		})
	}
	return events, newest.Format(time.RFC3339), nil
}
