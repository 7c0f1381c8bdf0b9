package config_test

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"indicatorline/internal/config"
)

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := config.Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 7, cfg.Workflow.ReviewWindowDays)
	assert.Equal(t, "guide", cfg.Roles.GuidePermission)
	assert.Contains(t, cfg.Roles.Designations, "eso-manager")
}

func TestFromYAMLRejectsThirdLevel(t *testing.T) {
	_, err := config.FromYAML([]byte("workflow:\n  max_verification_levels: 3\n"))
	require.Error(t, err)
}

func TestFromYAMLRejectsEmptyWebhookURL(t *testing.T) {
	_, err := config.FromYAML([]byte("webhooks:\n  - url: \"\"\n"))
	require.Error(t, err)
}

func TestLoadOptionalMissing(t *testing.T) {
	cfg, err := config.LoadOptional(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, cfg)
}

func TestLiveReadsFileOnEveryCall(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("workflow:\n  review_window_days: 3\n"), 0o644))
	live, err := config.NewLive(dir, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, live.ReviewWindowDays())

	live.Set("workflow.review_window_days", 10)
	assert.Equal(t, 10, live.ReviewWindowDays())

	live.Set("workflow.review_window_days", 0)
	assert.Equal(t, config.DefaultReviewWindowDays, live.ReviewWindowDays())
}

func TestLiveWithoutFileUsesDefaults(t *testing.T) {
	live, err := config.NewLive(t.TempDir(), nil)
	require.NoError(t, err)
	assert.Equal(t, config.DefaultReviewWindowDays, live.ReviewWindowDays())
	assert.Equal(t, config.DefaultGuidePermission, live.GuidePermission())
}

func TestLiveWatchPicksUpRewrittenFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(config.Path(dir), []byte("workflow:\n  review_window_days: 3\n"), 0o644))
	live, err := config.NewLive(dir, nil)
	require.NoError(t, err)
	require.NoError(t, live.Watch())
	t.Cleanup(func() { live.Close() })
	assert.Equal(t, 3, live.ReviewWindowDays())

	require.NoError(t, os.WriteFile(config.Path(dir), []byte("workflow:\n  review_window_days: 10\n"), 0o644))
	assert.Eventually(t, func() bool { return live.ReviewWindowDays() == 10 }, 5*time.Second, 20*time.Millisecond)
}

func TestLiveCloseWithoutWatch(t *testing.T) {
	live, err := config.NewLive(t.TempDir(), nil)
	require.NoError(t, err)
	assert.NoError(t, live.Close())
}
