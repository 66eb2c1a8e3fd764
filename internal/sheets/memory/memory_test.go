package memory

import (
	"context"
	"reflect"
	"testing"
)

func TestStore_ExportAndRead(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.ReadView(ctx, "main-indicators"); err == nil {
		t.Fatal("ReadView of a never exported view should fail")
	}

	if err := s.ExportView(ctx, "main-indicators", []byte(`{"netWorth": 1000}`)); err != nil {
		t.Fatalf("ExportView() error = %v", err)
	}
	rows, err := s.ReadView(ctx, "main-indicators")
	if err != nil {
		t.Fatalf("ReadView() error = %v", err)
	}
	want := [][]string{{"key", "value"}, {"netWorth", "1000"}}
	if !reflect.DeepEqual(rows, want) {
		t.Errorf("ReadView() = %v, want %v", rows, want)
	}

	rows[1][1] = "changed"
	again, _ := s.ReadView(ctx, "main-indicators")
	if again[1][1] != "1000" {
		t.Error("ReadView should return a copy")
	}
	if _, ok := s.UpdatedAt("main-indicators"); !ok {
		t.Error("UpdatedAt missing")
	}
	if s.Exports() != 1 {
		t.Errorf("Exports() = %d, want 1", s.Exports())
	}
}

func TestStore_RejectsInvalidContent(t *testing.T) {
	s := New()
	if err := s.ExportView(context.Background(), "x", []byte("nope")); err == nil {
		t.Fatal("expected error")
	}
	if s.Exports() != 0 {
		t.Error("failed exports should not be counted")
	}
}
