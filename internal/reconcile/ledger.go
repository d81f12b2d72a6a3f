package reconcile

import (
	"strings"

	"github.com/google/uuid"
	"github.com/hitoshi/coursesync/internal/model"
)

// DefaultGradeCategory は配点設定のないコースに追加する項目のカテゴリ。
const DefaultGradeCategory = "Imported"

// itemIDLength は成績項目IDの長さ。
const itemIDLength = 7

// MergeResult は Ledger.Merge の結果。
type MergeResult int

const (
	// MergeUnchanged は既存項目と同じ値だったため変更なし。
	MergeUnchanged MergeResult = iota
	// MergeUpdated は既存項目の点数を上書きした。
	MergeUpdated
	// MergeInserted は新しい項目を追加した。
	MergeInserted
)

// categoryAliases はカテゴリ名ごとに項目名に含まれていれば一致とみなすキーワード。
var categoryAliases = map[string][]string{
	"quizzes":     {"quiz"},
	"tests":       {"test"},
	"exams":       {"exam", "midterm", "final"},
	"assignments": {"assignment", "hw", "homework"},
	"homework":    {"hw", "assignment"},
	"labs":        {"lab"},
	"projects":    {"project"},
}

type pendingMerge struct {
	name  string
	score float64
	total float64
}

// Ledger はコース1件分の成績台帳をメモリ上で保持し、観測した点数をマージする。
// 1回のコース処理中の更新はすべて同じLedgerに対して行い、最後に1度だけ書き戻す。
type Ledger struct {
	courseID string
	version  int
	items    []model.GradedItem
	weights  []model.GradeWeight
	pending  []pendingMerge
	dirty    bool
	newID    func() string
}

// NewLedger はコースの成績台帳からLedgerを生成する。
// 渡されたコースの台帳スライスは変更しない。
func NewLedger(course *model.Course) *Ledger {
	items := make([]model.GradedItem, len(course.GradedItems))
	copy(items, course.GradedItems)
	return &Ledger{
		courseID: course.ID,
		version:  course.LedgerVersion,
		items:    items,
		weights:  course.GradeWeights,
		newID:    generateItemID,
	}
}

// CourseID は台帳のコースIDを返す。
func (l *Ledger) CourseID() string { return l.courseID }

// Version は読み込み時点の台帳バージョンを返す。
func (l *Ledger) Version() int { return l.version }

// Dirty は書き戻しが必要な変更があるかを返す。
func (l *Ledger) Dirty() bool { return l.dirty }

// Items は現在の台帳のコピーを返す。
func (l *Ledger) Items() []model.GradedItem {
	items := make([]model.GradedItem, len(l.items))
	copy(items, l.items)
	return items
}

// Merge は項目名をキーに点数をマージする。
// 既存項目は点数か満点が異なる場合のみ両方を上書きし、それ以外の項目には触れない。
func (l *Ledger) Merge(name string, score, total float64) MergeResult {
	result := l.apply(name, score, total)
	if result != MergeUnchanged {
		l.pending = append(l.pending, pendingMerge{name: name, score: score, total: total})
	}
	return result
}

func (l *Ledger) apply(name string, score, total float64) MergeResult {
	for i := range l.items {
		if l.items[i].Name != name {
			continue
		}
		if l.items[i].Score == score && l.items[i].Total == total {
			return MergeUnchanged
		}
		l.items[i].Score = score
		l.items[i].Total = total
		l.dirty = true
		return MergeUpdated
	}

	l.items = append(l.items, model.GradedItem{
		ID:       l.uniqueID(),
		Category: CategorizeItem(name, l.weights),
		Name:     name,
		Score:    score,
		Total:    total,
	})
	l.dirty = true
	return MergeInserted
}

// Rebase は最新のコースを読み直したLedgerを生成し、このLedgerで行った変更を再適用する。
// 書き戻し時にバージョン競合が起きた場合に使用する。
func (l *Ledger) Rebase(latest *model.Course) *Ledger {
	rebased := NewLedger(latest)
	rebased.newID = l.newID
	for _, p := range l.pending {
		rebased.Merge(p.name, p.score, p.total)
	}
	return rebased
}

func (l *Ledger) uniqueID() string {
	for {
		id := l.newID()
		if !l.hasID(id) {
			return id
		}
	}
}

func (l *Ledger) hasID(id string) bool {
	for _, item := range l.items {
		if item.ID == id {
			return true
		}
	}
	return false
}

// generateItemID はUUIDから7文字の小文字英数字IDを生成する。
func generateItemID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:itemIDLength]
}

// CategorizeItem は配点設定から項目名に合うカテゴリを選ぶ。
// 一致しなければ最初のカテゴリ、配点設定がなければ DefaultGradeCategory を返す。
func CategorizeItem(name string, weights []model.GradeWeight) string {
	if len(weights) == 0 {
		return DefaultGradeCategory
	}
	t := NormalizeKey(name)
	for _, w := range weights {
		if categoryMatches(NormalizeKey(w.Category), t) {
			return w.Category
		}
	}
	return weights[0].Category
}

func categoryMatches(c, t string) bool {
	if c == "" || t == "" {
		return false
	}
	if strings.Contains(t, c) || strings.Contains(c, t) {
		return true
	}
	for _, keyword := range categoryAliases[c] {
		if strings.Contains(t, keyword) {
			return true
		}
	}
	if singular, ok := strings.CutSuffix(c, "s"); ok && singular != "" {
		return strings.Contains(t, singular)
	}
	return false
}
