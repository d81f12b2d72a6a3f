// Package reconcile は外部プラットフォームの課題と内部の課題・コースを突き合わせる
// 照合ロジックを提供する。ストレージやネットワークには依存しない。
package reconcile

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
	"github.com/hitoshi/coursesync/internal/security"
)

// UntitledPlaceholder はタイトルの別名がすべて欠落している場合のタイトル。
const UntitledPlaceholder = "Untitled"

// 外部レコードのキー別名。先頭から順に探索する。
var (
	deadlineKeys = []string{"due_date", "due_at", "submission_window_end_date"}
	titleKeys    = []string{"title", "name"}
	pointsKeys   = []string{"total_points", "points", "points_possible"}
)

// deadlineLayouts は期限文字列として受け付ける書式。
// オフセットのない書式はUTCとして解釈される。
// 秒の後の小数部はレイアウトになくても解析時に受け付けられる。
var deadlineLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04Z07:00",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// Normalizer は外部プラットフォームの生データを正規化済みの課題に変換する。
type Normalizer struct {
	sanitizer security.TitleSanitizerService
}

// NewNormalizer はNormalizerを生成する。sanitizerがnilの場合はタイトルを前後の空白除去のみ行う。
func NewNormalizer(sanitizer security.TitleSanitizerService) *Normalizer {
	return &Normalizer{sanitizer: sanitizer}
}

// Normalize は生データを ExternalAssignment に変換する。
// 期限またはIDがない場合は model.ErrIncompleteRecord、
// 期限を解析できない場合は model.ErrUnparsableDeadline を返す。どちらもスキップ対象。
func (n *Normalizer) Normalize(raw model.RawAssignment, course model.ExternalCourse) (*model.ExternalAssignment, error) {
	rawDeadline, ok := firstPresent(raw, deadlineKeys)
	if !ok {
		return nil, model.ErrIncompleteRecord
	}
	deadline, err := ParseDeadline(rawDeadline)
	if err != nil {
		return nil, err
	}

	id, ok := coerceString(raw["id"])
	if !ok || id == "" {
		return nil, fmt.Errorf("%w: missing id", model.ErrIncompleteRecord)
	}

	ext := &model.ExternalAssignment{
		ExternalID:       id,
		Title:            n.title(raw),
		CourseExternalID: course.ID,
		CourseName:       course.DisplayName(),
		Deadline:         deadline,
	}

	if v, ok := firstPresent(raw, pointsKeys); ok {
		if f, ok := coerceFloat(v); ok {
			ext.PointsPossible = &f
		}
	}
	if f, ok := extractScore(raw); ok {
		ext.Score = &f
	}
	return ext, nil
}

func (n *Normalizer) title(raw model.RawAssignment) string {
	for _, key := range titleKeys {
		s, ok := coerceString(raw[key])
		if !ok {
			continue
		}
		if n.sanitizer != nil {
			s = n.sanitizer.Sanitize(s)
		} else {
			s = strings.TrimSpace(s)
		}
		if s != "" {
			return s
		}
	}
	return UntitledPlaceholder
}

// ParseDeadline は期限値を時刻に変換する。
// 文字列は末尾の "Z" を "+00:00" とみなしてISO-8601として解析する。
// 数値はUnix秒として扱う。結果は常にUTCで、timestamptzに合わせてマイクロ秒に切り捨てる。
func ParseDeadline(v any) (time.Time, error) {
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if strings.HasSuffix(s, "Z") {
			s = strings.TrimSuffix(s, "Z") + "+00:00"
		}
		for _, layout := range deadlineLayouts {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC().Truncate(time.Microsecond), nil
			}
		}
		return time.Time{}, fmt.Errorf("%w: %q", model.ErrUnparsableDeadline, d)
	default:
		f, ok := coerceFloat(v)
		if !ok || f <= 0 || math.IsInf(f, 0) || math.IsNaN(f) {
			return time.Time{}, fmt.Errorf("%w: %v", model.ErrUnparsableDeadline, v)
		}
		return time.Unix(int64(f), 0).UTC(), nil
	}
}

// extractScore は score または submission.score から点数を取り出す。
// 0点も有効な点数として扱う。
func extractScore(raw model.RawAssignment) (float64, bool) {
	if f, ok := coerceFloat(raw["score"]); ok {
		return f, true
	}
	sub, ok := raw["submission"].(map[string]any)
	if !ok {
		return 0, false
	}
	return coerceFloat(sub["score"])
}

// firstPresent は別名のうち最初に値が存在するものを返す。nilと空文字列は欠落とみなす。
func firstPresent(raw model.RawAssignment, keys []string) (any, bool) {
	for _, key := range keys {
		v, ok := raw[key]
		if !ok || v == nil {
			continue
		}
		if s, isString := v.(string); isString && strings.TrimSpace(s) == "" {
			continue
		}
		return v, true
	}
	return nil, false
}

func coerceString(v any) (string, bool) {
	switch s := v.(type) {
	case string:
		return s, true
	case json.Number:
		return s.String(), true
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64), true
	case int:
		return strconv.Itoa(s), true
	case int64:
		return strconv.FormatInt(s, 10), true
	default:
		return "", false
	}
}

func coerceFloat(v any) (float64, bool) {
	switch f := v.(type) {
	case float64:
		return f, true
	case float32:
		return float64(f), true
	case int:
		return float64(f), true
	case int64:
		return float64(f), true
	case json.Number:
		parsed, err := f.Float64()
		return parsed, err == nil
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		return parsed, err == nil
	default:
		return 0, false
	}
}
