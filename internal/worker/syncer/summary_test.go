package syncer

import (
	"fmt"
	"testing"
)

func TestSummary_AddErrorCapsMessages(t *testing.T) {
	var s Summary
	for i := 0; i < 15; i++ {
		s.AddError(fmt.Sprintf("error %d", i))
	}

	if s.ErrorCount != 15 {
		t.Errorf("ErrorCount = %d, want 15", s.ErrorCount)
	}
	if len(s.Errors) != maxRecordedErrors {
		t.Errorf("保持件数 = %d, want %d", len(s.Errors), maxRecordedErrors)
	}
	if s.Errors[0] != "error 0" {
		t.Errorf("先頭のエラー = %q, want error 0", s.Errors[0])
	}
}

func TestSummary_Merge(t *testing.T) {
	a := Summary{UsersProcessed: 1, AssignmentsCreated: 2, GradesMerged: 1}
	for i := 0; i < 8; i++ {
		a.AddError(fmt.Sprintf("a%d", i))
	}
	b := Summary{UsersSkipped: 1, AssignmentsUpdated: 3, ConflictsCreated: 1}
	for i := 0; i < 5; i++ {
		b.AddError(fmt.Sprintf("b%d", i))
	}

	a.Merge(b)

	want := Summary{
		UsersProcessed:     1,
		UsersSkipped:       1,
		AssignmentsCreated: 2,
		AssignmentsUpdated: 3,
		ConflictsCreated:   1,
		GradesMerged:       1,
		ErrorCount:         13,
	}
	got := a
	got.Errors = nil
	if got.UsersProcessed != want.UsersProcessed || got.UsersSkipped != want.UsersSkipped ||
		got.AssignmentsCreated != want.AssignmentsCreated || got.AssignmentsUpdated != want.AssignmentsUpdated ||
		got.ConflictsCreated != want.ConflictsCreated || got.GradesMerged != want.GradesMerged ||
		got.ErrorCount != want.ErrorCount {
		t.Errorf("Merge結果 = %+v, want %+v", got, want)
	}
	if len(a.Errors) != maxRecordedErrors {
		t.Fatalf("保持件数 = %d, want %d", len(a.Errors), maxRecordedErrors)
	}
	if a.Errors[7] != "a7" || a.Errors[8] != "b0" || a.Errors[9] != "b1" {
		t.Errorf("Errors = %v", a.Errors)
	}
}
