package main

import (
	"context"
	"strings"
	"time"

	"github.com/google/go-github/v77/github"
	"gorm.io/datatypes"

	"github.com/anthrotech-dev/partners/streams"
)

type commitSource struct {
	client      *github.Client
	owner, repo string
}

func newCommitSource(token, owner, repo string) *commitSource {
	client := github.NewClient(nil)
	if token != "" {
		client = client.WithAuthToken(token)
	}
	return &commitSource{client: client, owner: owner, repo: repo}
}

// collect lists the commits made in [since, until), every page.
func (s *commitSource) collect(ctx context.Context, since, until time.Time) ([]*github.RepositoryCommit, error) {
	opts := &github.CommitsListOptions{
		Since:       since,
		Until:       until,
		ListOptions: github.ListOptions{PerPage: 100},
	}
	var all []*github.RepositoryCommit
	for {
		commits, resp, err := s.client.Repositories.ListCommits(ctx, s.owner, s.repo, opts)
		if err != nil {
			return nil, err
		}
		all = append(all, commits...)
		if resp.NextPage == 0 {
			return all, nil
		}
		opts.Page = resp.NextPage
	}
}

// commitActivity turns a commit into a "github-commit" activity. The SHA
// keeps re-crawls idempotent.
func commitActivity(repo string, commit *github.RepositoryCommit) *streams.Activity {
	message := commit.GetCommit().GetMessage()
	title, _, _ := strings.Cut(message, "\n")
	externalID := "github-" + commit.GetSHA()

	author := commit.GetAuthor().GetLogin()
	if author == "" {
		author = commit.GetCommit().GetAuthor().GetName()
	}
	created := commit.GetCommit().GetCommitter().GetDate().Time

	return &streams.Activity{
		ExternalID:  &externalID,
		Created:     created,
		Subject:     "github",
		Verb:        "commit",
		Title:       title,
		Description: message,
		Context: datatypes.JSONMap{
			"repo":   repo,
			"sha":    commit.GetSHA(),
			"author": author,
			"url":    commit.GetHTMLURL(),
		},
	}
}
