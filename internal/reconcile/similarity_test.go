package reconcile

import (
	"math"
	"testing"
	"time"

	"github.com/hitoshi/coursesync/internal/model"
)

var baseDeadline = time.Date(2024, 3, 1, 23, 59, 0, 0, time.UTC)

func manual(id, title string, deadline time.Time) *model.Assignment {
	return &model.Assignment{ID: id, Title: title, Deadline: deadline, Source: model.SourceManual}
}

func external(title string, deadline time.Time) *model.ExternalAssignment {
	return &model.ExternalAssignment{ExternalID: "x", Title: title, Deadline: deadline}
}

// TestTitleSimilarity はRatcliff/Obershelp類似度の値を検証する。
func TestTitleSimilarity(t *testing.T) {
	tests := []struct {
		a, b string
		want float64
	}{
		{"quiz 3", "quiz 3", 1.0},
		{"quiz 3", "quiz 4", 10.0 / 12.0},
		{"lab 2", "lab 3", 0.8},
		{"project proposal", "project proposal draft", 32.0 / 38.0},
		{"midterm exam", "midterm exam 1", 24.0 / 26.0},
		{"abc", "xyz", 0},
		{"", "", 1.0},
	}
	for _, tt := range tests {
		got := TitleSimilarity(tt.a, tt.b)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("TitleSimilarity(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}

// TestTitleSimilarity_AbbreviatedTitle は略記タイトルの類似度が閾値を下回ることを検証する。
// 文字単位の比較では "homework" と "hw" の差が大きく、約0.72となる。
func TestTitleSimilarity_AbbreviatedTitle(t *testing.T) {
	got := TitleSimilarity("homework 1 — recursion", "hw1: recursion")
	if got >= DefaultSimilarityThreshold || got < 0.7 {
		t.Errorf("TitleSimilarity = %v, want in [0.7, 0.8)", got)
	}
}

// TestFindSimilar は閾値と期限差の判定を検証する。
func TestFindSimilar(t *testing.T) {
	tests := []struct {
		name      string
		existing  []*model.Assignment
		candidate *model.ExternalAssignment
		wantID    string
	}{
		{
			name:      "大文字小文字を無視して一致",
			existing:  []*model.Assignment{manual("m1", "Midterm Exam", baseDeadline)},
			candidate: external("MIDTERM EXAM 1", baseDeadline.Add(2*time.Hour)),
			wantID:    "m1",
		},
		{
			name:      "閾値ちょうどは一致",
			existing:  []*model.Assignment{manual("m1", "Lab 2", baseDeadline)},
			candidate: external("Lab 3", baseDeadline),
			wantID:    "m1",
		},
		{
			name:      "期限差48時間ちょうどは一致",
			existing:  []*model.Assignment{manual("m1", "Quiz 3", baseDeadline)},
			candidate: external("Quiz 3", baseDeadline.Add(-48*time.Hour)),
			wantID:    "m1",
		},
		{
			name:      "期限差48時間超は不一致",
			existing:  []*model.Assignment{manual("m1", "Quiz 3", baseDeadline)},
			candidate: external("Quiz 3", baseDeadline.Add(48*time.Hour+time.Second)),
		},
		{
			name:      "類似度不足",
			existing:  []*model.Assignment{manual("m1", "Homework 1 — Recursion", baseDeadline)},
			candidate: external("HW1: Recursion", baseDeadline.Add(2*time.Hour)),
		},
		{
			name: "外部由来の課題は対象外",
			existing: []*model.Assignment{
				{ID: "e1", Title: "Quiz 3", Deadline: baseDeadline, Source: model.SourceExternal, ExternalID: "9"},
			},
			candidate: external("Quiz 3", baseDeadline),
		},
		{
			name: "登録元未設定は手動扱い",
			existing: []*model.Assignment{
				{ID: "m1", Title: "Quiz 3", Deadline: baseDeadline},
			},
			candidate: external("Quiz 3", baseDeadline),
			wantID:    "m1",
		},
		{
			name:      "期限未設定は対象外",
			existing:  []*model.Assignment{manual("m1", "Quiz 3", time.Time{})},
			candidate: external("Quiz 3", baseDeadline),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindSimilar(tt.existing, tt.candidate)
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("FindSimilar() = %s, want nil", got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("FindSimilar() = %v, want %s", got, tt.wantID)
			}
		})
	}
}

// TestFindSimilar_Strategy は走査順優先と最良一致の違いを検証する。
func TestFindSimilar_Strategy(t *testing.T) {
	existing := []*model.Assignment{
		manual("weaker", "Project Proposal", baseDeadline),
		manual("stronger", "Project Proposal Draft", baseDeadline),
	}
	candidate := external("Project Proposal Draft", baseDeadline)

	if got := NewSimilarityMatcher(MatchFirst).FindSimilar(existing, candidate); got == nil || got.ID != "weaker" {
		t.Errorf("first strategy = %v, want weaker", got)
	}
	if got := NewSimilarityMatcher(MatchBest).FindSimilar(existing, candidate); got == nil || got.ID != "stronger" {
		t.Errorf("best strategy = %v, want stronger", got)
	}
}

// TestParseMatchStrategy は設定値の解釈を検証する。
func TestParseMatchStrategy(t *testing.T) {
	tests := []struct {
		input   string
		want    MatchStrategy
		wantErr bool
	}{
		{"", MatchFirst, false},
		{"first", MatchFirst, false},
		{"BEST", MatchBest, false},
		{"random", "", true},
	}
	for _, tt := range tests {
		got, err := ParseMatchStrategy(tt.input)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseMatchStrategy(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
		}
		if got != tt.want {
			t.Errorf("ParseMatchStrategy(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
