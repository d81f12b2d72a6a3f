package reconcile

import (
	"fmt"
	"strings"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
	"github.com/pmezard/go-difflib/difflib"
)

const (
	// DefaultSimilarityThreshold はタイトル類似度の下限。
	DefaultSimilarityThreshold = 0.8
	// DefaultDeadlineWindow は期限差の上限。
	DefaultDeadlineWindow = 48 * time.Hour
)

// MatchStrategy は閾値を満たす候補が複数ある場合の選択方法。
type MatchStrategy string

const (
	// MatchFirst は走査順で最初に閾値を満たした課題を返す。
	MatchFirst MatchStrategy = "first"
	// MatchBest は閾値を満たす課題のうち類似度が最も高いものを返す。
	// 同率の場合は走査順で先のものを返す。
	MatchBest MatchStrategy = "best"
)

// ParseMatchStrategy は設定値を MatchStrategy に変換する。空文字列は MatchFirst。
func ParseMatchStrategy(s string) (MatchStrategy, error) {
	switch MatchStrategy(strings.ToLower(strings.TrimSpace(s))) {
	case "", MatchFirst:
		return MatchFirst, nil
	case MatchBest:
		return MatchBest, nil
	default:
		return "", fmt.Errorf("unknown match strategy: %q", s)
	}
}

// SimilarityMatcher は手動作成の課題から外部課題の重複候補を探す。
type SimilarityMatcher struct {
	Strategy  MatchStrategy
	Threshold float64
	Window    time.Duration
}

// NewSimilarityMatcher は既定の閾値でSimilarityMatcherを生成する。
func NewSimilarityMatcher(strategy MatchStrategy) *SimilarityMatcher {
	if strategy == "" {
		strategy = MatchFirst
	}
	return &SimilarityMatcher{
		Strategy:  strategy,
		Threshold: DefaultSimilarityThreshold,
		Window:    DefaultDeadlineWindow,
	}
}

// FindSimilar は既定設定（走査順で最初の一致）で重複候補を返す。
func FindSimilar(existing []*model.Assignment, candidate *model.ExternalAssignment) *model.Assignment {
	return NewSimilarityMatcher(MatchFirst).FindSimilar(existing, candidate)
}

// FindSimilar は手動作成の課題のうち、小文字化したタイトルの類似度が閾値以上かつ
// 期限差が許容範囲内のものを返す。外部由来の課題と期限未設定の課題は対象外。
func (m *SimilarityMatcher) FindSimilar(existing []*model.Assignment, candidate *model.ExternalAssignment) *model.Assignment {
	if candidate == nil {
		return nil
	}
	candidateTitle := strings.ToLower(candidate.Title)

	var best *model.Assignment
	bestRatio := -1.0
	for _, a := range existing {
		if !a.IsManual() || a.Deadline.IsZero() {
			continue
		}
		if absDuration(a.Deadline.Sub(candidate.Deadline)) > m.Window {
			continue
		}
		ratio := TitleSimilarity(strings.ToLower(a.Title), candidateTitle)
		if ratio < m.Threshold {
			continue
		}
		if m.Strategy != MatchBest {
			return a
		}
		if ratio > bestRatio {
			best, bestRatio = a, ratio
		}
	}
	return best
}

// TitleSimilarity は2つの文字列のRatcliff/Obershelp類似度（0.0〜1.0）を返す。
// 文字（rune）単位で比較する。
func TitleSimilarity(a, b string) float64 {
	if a == "" && b == "" {
		return 1.0
	}
	return difflib.NewMatcher(splitRunes(a), splitRunes(b)).Ratio()
}

func splitRunes(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "")
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
