package badges

import (
	"testing"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeLanguageScoresProportionalSplit(t *testing.T) {
	repos := []provider.Repo{
		{
			Name:      "engine",
			Stars:     1000,
			Languages: map[string]float64{"Go": 800, "Python": 200},
		},
	}

	scores := ComputeLanguageScores(repos)
	assert.InDelta(t, 800, scores["Go"], 0.001)
	assert.InDelta(t, 200, scores["Python"], 0.001)
}

func TestComputeLanguageScoresAccumulatesAcrossRepos(t *testing.T) {
	repos := []provider.Repo{
		{Name: "a", Stars: 100, Languages: map[string]float64{"Go": 1}},
		{Name: "b", Stars: 50, Languages: map[string]float64{"Go": 3, "Rust": 1}},
	}

	scores := ComputeLanguageScores(repos)
	assert.InDelta(t, 137.5, scores["Go"], 0.001)
	assert.InDelta(t, 12.5, scores["Rust"], 0.001)
}

func TestComputeLanguageScoresSkipsUnusable(t *testing.T) {
	repos := []provider.Repo{
		{Name: "unstarred", Stars: 0, Languages: map[string]float64{"Go": 100}},
		{Name: "no-breakdown", Stars: 500},
		{Name: "zero-lines", Stars: 500, Languages: map[string]float64{"Go": 0}},
	}

	assert.Empty(t, ComputeLanguageScores(repos))
}

func TestBadgeScore(t *testing.T) {
	cases := []struct {
		total float64
		score int64
	}{
		{0, 1},
		{0.9, 1},
		{1, 10},
		{9, 10},
		{10, 100},
		{99, 100},
		{800, 1000},
		{1000, 10000},
	}
	for _, c := range cases {
		assert.Equal(t, c.score, BadgeScore(c.total), "total %v", c.total)
	}
}

func TestDecodeRepos(t *testing.T) {
	payload := models.JSONMap{
		"repos": []interface{}{
			map[string]interface{}{
				"name":  "engine",
				"stars": float64(42),
				"languages": map[string]interface{}{
					"Go": float64(800),
				},
			},
		},
	}

	repos, err := DecodeRepos(payload)
	require.NoError(t, err)
	require.Len(t, repos, 1)
	assert.Equal(t, "engine", repos[0].Name)
	assert.Equal(t, float64(42), repos[0].Stars)
	assert.Equal(t, float64(800), repos[0].Languages["Go"])
}
