package vectorstore

import (
	"reflect"
	"testing"
)

func TestBuildFilterLiteralBecomesEquality(t *testing.T) {
	got := BuildFilter(map[string]any{"user_id": "u1"})
	want := map[string]any{"user_id": map[string]any{"$eq": "u1"}}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("got %v, want %v", got, want)
	}
}

func TestBuildFilterKeepsSupportedOperators(t *testing.T) {
	got := BuildFilter(map[string]any{
		"chunk_index": map[string]any{"$gte": 2, "$lt": 10},
		"file_key":    map[string]any{"$in": []string{"uploads/u1/a.pdf", "uploads/u1/b.pdf"}},
	})

	ci, ok := got["chunk_index"].(map[string]any)
	if !ok || ci["$gte"] != 2 || ci["$lt"] != 10 {
		t.Errorf("range operators not preserved: %v", got["chunk_index"])
	}
	fk, ok := got["file_key"].(map[string]any)
	if !ok {
		t.Fatalf("file_key clause missing: %v", got)
	}
	list, ok := fk["$in"].([]any)
	if !ok || len(list) != 2 {
		t.Errorf("$in list not preserved: %v", fk["$in"])
	}
}

func TestBuildFilterDropsUnsupportedOperator(t *testing.T) {
	got := BuildFilter(map[string]any{
		"user_id": map[string]any{"$eq": "u1", "$regex": ".*"},
	})

	clause, ok := got["user_id"].(map[string]any)
	if !ok {
		t.Fatalf("user_id clause missing: %v", got)
	}
	if _, present := clause["$regex"]; present {
		t.Error("$regex should have been dropped")
	}
	if clause["$eq"] != "u1" {
		t.Error("supported $eq should survive alongside a dropped operator")
	}
}

func TestBuildFilterDropsEmptyInList(t *testing.T) {
	got := BuildFilter(map[string]any{
		"user_id":  "u1",
		"file_key": map[string]any{"$in": []any{}},
	})

	if _, present := got["file_key"]; present {
		t.Error("empty $in clause should be dropped from the effective filter")
	}
	if _, present := got["user_id"]; !present {
		t.Error("other clauses must survive when one is dropped")
	}
}

func TestBuildFilterMalformedDegradesToNil(t *testing.T) {
	got := BuildFilter(map[string]any{
		"file_key": map[string]any{"$regex": ".*", "$exists": true},
		"user_id":  nil,
	})
	if got != nil {
		t.Errorf("fully unusable filter should degrade to nil, got %v", got)
	}
}

func TestBuildFilterEmptyInput(t *testing.T) {
	if got := BuildFilter(nil); got != nil {
		t.Errorf("nil input should yield nil, got %v", got)
	}
	if got := BuildFilter(map[string]any{}); got != nil {
		t.Errorf("empty input should yield nil, got %v", got)
	}
}
