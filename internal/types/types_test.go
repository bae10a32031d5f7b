package types

import "testing"

func TestOperationKind_Valid(t *testing.T) {
	for _, k := range []OperationKind{OpCreate, OpUpdate, OpDelete, OpComplete} {
		if !k.Valid() {
			t.Errorf("%q reported invalid", k)
		}
	}
	for _, k := range []OperationKind{"", "merge", "CREATE"} {
		if k.Valid() {
			t.Errorf("%q reported valid", k)
		}
	}
}

func TestResourceType_Valid(t *testing.T) {
	if !ResourceHabit.Valid() || !ResourceCompletion.Valid() {
		t.Error("known resource types reported invalid")
	}
	if ResourceType("user").Valid() {
		t.Error("unknown resource type reported valid")
	}
}

func TestParseDay(t *testing.T) {
	if _, err := ParseDay("2026-08-30"); err != nil {
		t.Errorf("valid day rejected: %v", err)
	}
	for _, s := range []string{"", "2026-13-01", "2026-08-32", "08-30-2026", "2026-08-30T00:00:00Z"} {
		if _, err := ParseDay(s); err == nil {
			t.Errorf("ParseDay(%q) succeeded, want error", s)
		}
	}
}

func TestHabitPatch_Empty(t *testing.T) {
	if !(HabitPatch{}).Empty() {
		t.Error("zero patch reported non-empty")
	}
	name := "x"
	if (HabitPatch{Name: &name}).Empty() {
		t.Error("patch with a field reported empty")
	}
}
