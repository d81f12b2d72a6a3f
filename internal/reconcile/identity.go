package reconcile

import "github.com/hitoshi/coursesync/internal/model"

// FindByExternalID は外部IDが完全一致する既存の課題を返す。
// 既存一覧は1ユーザー分に絞られている前提で線形探索する。空のIDは一致しない。
func FindByExternalID(existing []*model.Assignment, externalID string) *model.Assignment {
	if externalID == "" {
		return nil
	}
	for _, a := range existing {
		if a.ExternalID == externalID {
			return a
		}
	}
	return nil
}
