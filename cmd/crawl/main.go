package main

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/config"
	"github.com/anthrotech-dev/partners/logging"
	"github.com/anthrotech-dev/partners/streams"
)

func main() {
	cfg, err := config.LoadCrawl()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.Log)
	if err != nil {
		panic(err)
	}
	defer log.Sync()

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
	defer cancel()

	db, reg, err := partners.Open(cfg.Database, log)
	if err != nil {
		log.Fatal("failed to connect database", zap.Error(err))
	}
	if err := partners.Migrate(ctx, db); err != nil {
		log.Fatal("failed to migrate", zap.Error(err))
	}

	partner, err := partners.NewStore(db).PartnerByName(ctx, cfg.Partner)
	if err != nil {
		log.Fatal("unknown partner", zap.String("partner", cfg.Partner), zap.Error(err))
	}
	stream, err := streams.Of(ctx, db, partner)
	if err != nil {
		log.Fatal("partner has no stream", zap.String("partner", cfg.Partner), zap.Error(err))
	}

	until := time.Now()
	source := newCommitSource(cfg.GitHubToken, cfg.Owner, cfg.Repo)
	commits, err := source.collect(ctx, until.Add(-cfg.Since), until)
	if err != nil {
		log.Fatal("failed to collect commits", zap.String("repo", cfg.Owner+"/"+cfg.Repo), zap.Error(err))
	}

	published := 0
	for _, commit := range commits {
		act := commitActivity(cfg.Owner+"/"+cfg.Repo, commit)
		if err := reg.Streams.Publish(ctx, db, act, *stream); err != nil {
			log.Error("failed to publish commit", zap.String("sha", commit.GetSHA()), zap.Error(err))
			continue
		}
		published++
	}
	log.Info("crawl finished",
		zap.String("partner", partner.Name),
		zap.Int("commits", len(commits)),
		zap.Int("published", published))
}
