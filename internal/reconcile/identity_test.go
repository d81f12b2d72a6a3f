package reconcile

import (
	"testing"

	"github.com/hitoshi/coursesync/internal/model"
)

// TestFindByExternalID は外部IDの完全一致検索を検証する。
func TestFindByExternalID(t *testing.T) {
	existing := []*model.Assignment{
		{ID: "a1", Source: model.SourceManual},
		{ID: "a2", Source: model.SourceExternal, ExternalID: "55"},
		{ID: "a3", Source: model.SourceExternal, ExternalID: "555"},
		{ID: "a4", Source: model.SourceExternal, ExternalID: "55"},
	}

	tests := []struct {
		name       string
		externalID string
		wantID     string
	}{
		{"一致", "555", "a3"},
		{"重複時は先頭", "55", "a2"},
		{"正規化しない", " 55", ""},
		{"大文字小文字を区別", "AB", ""},
		{"空IDは一致しない", "", ""},
		{"該当なし", "999", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := FindByExternalID(existing, tt.externalID)
			if tt.wantID == "" {
				if got != nil {
					t.Errorf("FindByExternalID(%q) = %s, want nil", tt.externalID, got.ID)
				}
				return
			}
			if got == nil || got.ID != tt.wantID {
				t.Errorf("FindByExternalID(%q) = %v, want %s", tt.externalID, got, tt.wantID)
			}
		})
	}
}

// TestFindByExternalID_Empty は空の一覧でnilを返すことを検証する。
func TestFindByExternalID_Empty(t *testing.T) {
	if got := FindByExternalID(nil, "1"); got != nil {
		t.Errorf("FindByExternalID(nil) = %v, want nil", got)
	}
}
