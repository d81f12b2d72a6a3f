package reconcile

import (
	"strings"

	"github.com/hitoshi/coursesync/internal/model"
)

// NormalizeKey は比較用に文字列を小文字化し、英数字以外を取り除く。
func NormalizeKey(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToLower(s) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ResolveCourse は外部コースに対応する内部コースのIDを返す。見つからない場合は空文字列。
//
// 判定は2つの独立した規則で行い、最初に満たしたコースを採用する。
//   - コード規則: 内部コードと外部略称の一方が他方を含む
//   - 名称規則: 内部名称と外部名称が一致する
//
// 正規化後に空になる文字列はどちらの規則も満たさない。
func ResolveCourse(courseName, courseShortName string, courses []*model.Course) string {
	extCode := NormalizeKey(courseShortName)
	extName := NormalizeKey(courseName)

	for _, c := range courses {
		code := NormalizeKey(c.Code)
		if code != "" && extCode != "" &&
			(strings.Contains(extCode, code) || strings.Contains(code, extCode)) {
			return c.ID
		}
		name := NormalizeKey(c.Name)
		if name != "" && name == extName {
			return c.ID
		}
	}
	return ""
}
