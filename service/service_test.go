package service

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dnldd/candlebot/bot"
	"github.com/dnldd/candlebot/shared"
	"github.com/peterldowns/testy/assert"
)

func TestConfigValidate(t *testing.T) {
	// Ensure an invalid service config is rejected.
	_, err := NewService(context.Background(), &Config{})
	assert.True(t, errors.Is(err, shared.ErrValidation))

	cfg := &Config{
		Address:        "127.0.0.1:0",
		Version:        "v1",
		AuthToken:      "secret",
		StatusInterval: 1,
		Cancel:         func() {},
	}
	assert.Error(t, cfg.Validate())

	cfg.CrawlerURL = "http://localhost:9000"
	assert.NoError(t, cfg.Validate())
}

func TestServiceBacktest(t *testing.T) {
	reportDir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewService(ctx, &Config{
		Address:        "127.0.0.1:0",
		Version:        "v1",
		AuthToken:      "secret",
		DataDir:        "../testdata",
		ReportDir:      reportDir,
		BotFile:        "../testdata/bot.yaml",
		StatusInterval: 1,
		Cancel:         cancel,
	})
	assert.NoError(t, err)

	// Ensure the boot bot runs to completion and cancels the service.
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down after the boot bot")
	}

	status, err := svc.Registry().Status("backtest")
	assert.NoError(t, err)
	assert.Equal(t, status.Progress, 10)
	assert.Equal(t, status.State, bot.Done)
	assert.Equal(t, status.Err, "")
	assert.NotNil(t, status.Summary)
	assert.Equal(t, status.Summary.Trades, 1)

	// Ensure the run transactions were reported.
	reports, err := filepath.Glob(filepath.Join(reportDir, "backtest-*.csv"))
	assert.NoError(t, err)
	assert.Equal(t, len(reports), 1)

	data, err := os.ReadFile(reports[0])
	assert.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, len(lines), 3)
	assert.True(t, strings.Contains(lines[1], ",BTC,bid,2.35,"))
	assert.True(t, strings.Contains(lines[2], ",BTC,ask,2.35,"))

	// Ensure the run summary was reported next to the transactions.
	summaries, err := filepath.Glob(filepath.Join(reportDir, "summary-backtest-*.csv"))
	assert.NoError(t, err)
	assert.Equal(t, len(summaries), 1)

	data, err = os.ReadFile(summaries[0])
	assert.NoError(t, err)
	lines = strings.Split(strings.TrimSpace(string(data)), "\n")
	assert.Equal(t, len(lines), 2)
	assert.True(t, strings.HasPrefix(lines[0], "count,gain_count,loss_count,profit,"))
	assert.True(t, strings.HasPrefix(lines[1], "1,"))
}

func TestServiceGracefulShutdown(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewService(ctx, &Config{
		Address:        "127.0.0.1:0",
		Version:        "v1",
		AuthToken:      "secret",
		DataDir:        "../testdata",
		StatusInterval: 1,
		Cancel:         cancel,
	})
	assert.NoError(t, err)

	// Ensure the service can be run and gracefully terminated.
	time.AfterFunc(time.Second*2, func() {
		cancel()
	})
	done := make(chan struct{})
	go func() {
		svc.Run(ctx)
		close(done)
	}()

	<-done
}
