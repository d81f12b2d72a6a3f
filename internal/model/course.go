// Package model はドメインモデルを定義する。
package model

import (
	"encoding/json"
	"time"
)

// Course はユーザーが管理する内部コースを表す。
type Course struct {
	ID           string
	UserID       string
	Code         string // 例: "ECE 306"
	Name         string // 例: "Embedded Systems"
	GradedItems  []GradedItem
	GradeWeights []GradeWeight
	// LedgerVersion はgraded_itemsの楽観的ロック用バージョン。
	LedgerVersion int
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// GradedItem は成績台帳の1項目を表す。コース内でNameは一意。
type GradedItem struct {
	ID       string  `json:"id"`
	Category string  `json:"category"`
	Name     string  `json:"name"`
	Score    float64 `json:"score"`
	Total    float64 `json:"total"`
}

// GradeWeight は成績カテゴリとその配点比率を表す。
type GradeWeight struct {
	Category string  `json:"category"`
	Weight   float64 `json:"weight"`
}

// DecodeGradedItems はJSONエンコードされた成績台帳をデコードする。
// 空・不正なJSON・配列以外の値は空の台帳として扱う。
func DecodeGradedItems(data []byte) []GradedItem {
	if len(data) == 0 {
		return []GradedItem{}
	}
	var items []GradedItem
	if err := json.Unmarshal(data, &items); err != nil || items == nil {
		return []GradedItem{}
	}
	return items
}

// DecodeGradeWeights はJSONエンコードされた配点設定をデコードする。
// 空・不正なJSONは配点なしとして扱う。
func DecodeGradeWeights(data []byte) []GradeWeight {
	if len(data) == 0 {
		return nil
	}
	var weights []GradeWeight
	if err := json.Unmarshal(data, &weights); err != nil {
		return nil
	}
	return weights
}
