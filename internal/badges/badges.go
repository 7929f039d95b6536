// Package badges derives achievement records from cached scrape data.
package badges

import (
	"math"

	"github.com/devstreak/sync/internal/api/provider"
	"github.com/devstreak/sync/internal/models"
	"github.com/devstreak/sync/internal/storage"
	"github.com/mitchellh/mapstructure"
	"github.com/pkg/errors"
)

// LanguageScores maps a program language to its accumulated popularity
// score across all of an account's repositories.
type LanguageScores map[string]float64

// ComputeLanguageScores distributes each repository's popularity score
// across its languages proportionally to line counts and accumulates the
// totals. Repositories without a language breakdown or without a positive
// score contribute nothing.
func ComputeLanguageScores(repos []provider.Repo) LanguageScores {
	scores := LanguageScores{}

	for _, repo := range repos {
		if repo.Stars <= 0 || len(repo.Languages) == 0 {
			continue
		}

		var total float64
		for _, lines := range repo.Languages {
			total += lines
		}
		if total <= 0 {
			continue
		}

		for language, lines := range repo.Languages {
			scores[language] += repo.Stars * (lines / total)
		}
	}
	return scores
}

// BadgeScore turns an accumulated language total into the badge score:
// 10^(number of digits in the integer part of the total).
func BadgeScore(total float64) int64 {
	n := int64(total)
	digits := 0
	for n > 0 {
		digits++
		n /= 10
	}

	score := int64(1)
	for i := 0; i < digits; i++ {
		score *= 10
	}
	return score
}

// DecodeRepos converts a cached repos snapshot payload back into typed
// repositories.
func DecodeRepos(payload models.JSONMap) ([]provider.Repo, error) {
	var wrapper struct {
		Repos []provider.Repo `mapstructure:"repos"`
	}
	if err := mapstructure.Decode(map[string]interface{}(payload), &wrapper); err != nil {
		return nil, errors.Wrap(err, "error decoding repos snapshot")
	}
	return wrapper.Repos, nil
}

// Materialize upserts one badge per language whose accumulated total
// exceeds threshold. Upserts are idempotent on (user, provider, language),
// so recomputation never duplicates rows or drifts scores.
func Materialize(tx *storage.Connection, conn *models.Connection, scores LanguageScores, threshold float64) error {
	for language, total := range scores {
		if total <= threshold {
			continue
		}

		detail := models.JSONMap{
			"language": language,
			"total":    math.Floor(total),
		}
		if err := models.UpsertBadge(tx, conn.UserID, conn.Provider, language, BadgeScore(total), detail); err != nil {
			return err
		}
	}
	return nil
}
