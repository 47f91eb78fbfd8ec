package storage

import (
	"context"
	"reflect"
	"sync"
	"testing"

	"go.uber.org/zap"
)

func TestEnsureColumns_EmptyTable(t *testing.T) {
	store := newFakeStore()
	s, err := NewSchemaSynchronizer(store, "macon_pivot", zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	ctx := context.Background()
	if err := s.EnsureTable(ctx); err != nil {
		t.Fatal(err)
	}

	available, err := s.EnsureColumns(ctx, []SchemaColumn{
		{Name: "Hot_water_temperature", Type: ColumnFloat},
		{Name: "Bit5_Defrost", Type: ColumnBool},
	})
	if err != nil {
		t.Fatalf("EnsureColumns: %v", err)
	}

	want := []string{"id", "timestamp", "Hot_water_temperature", "Bit5_Defrost"}
	if got := store.columnNames("macon_pivot"); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
	if !available["Hot_water_temperature"] || !available["Bit5_Defrost"] {
		t.Fatalf("available = %v", available)
	}
}

func TestEnsureColumns_Idempotent(t *testing.T) {
	store := newFakeStore()
	s, _ := NewSchemaSynchronizer(store, "pivot", zap.NewNop())
	cols := []SchemaColumn{{Name: "Flow_temperature", Type: ColumnFloat}}
	ctx := context.Background()

	if _, err := s.EnsureColumns(ctx, cols); err != nil {
		t.Fatal(err)
	}
	before := store.columnNames("pivot")
	adds := store.adds

	if _, err := s.EnsureColumns(ctx, cols); err != nil {
		t.Fatal(err)
	}
	if store.adds != adds {
		t.Errorf("second call added %d columns", store.adds-adds)
	}
	if got := store.columnNames("pivot"); !reflect.DeepEqual(got, before) {
		t.Errorf("schema changed: %v -> %v", before, got)
	}

	// a fresh synchronizer must see the columns through introspection
	fresh, _ := NewSchemaSynchronizer(store, "pivot", zap.NewNop())
	if _, err := fresh.EnsureColumns(ctx, cols); err != nil {
		t.Fatal(err)
	}
	if store.adds != adds {
		t.Errorf("fresh synchronizer re-added columns")
	}
}

func TestEnsureColumns_FailedAddIsBestEffort(t *testing.T) {
	store := newFakeStore()
	store.failAdd["Broken"] = true
	s, _ := NewSchemaSynchronizer(store, "pivot", zap.NewNop())

	available, err := s.EnsureColumns(context.Background(), []SchemaColumn{
		{Name: "Broken", Type: ColumnFloat},
		{Name: "Outdoor_temperature", Type: ColumnFloat},
	})
	if err != nil {
		t.Fatalf("a failed add must not fail the call: %v", err)
	}
	if available["Broken"] {
		t.Error("failed column reported as available")
	}
	if !available["Outdoor_temperature"] {
		t.Error("remaining column missing")
	}
}

func TestEnsureColumns_ConcurrentPollers(t *testing.T) {
	store := newFakeStore()
	cols := []SchemaColumn{
		{Name: "Return_temperature", Type: ColumnFloat},
		{Name: "Bit3_Brine_pump", Type: ColumnBool},
	}

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			// independent pollers share only the store
			s, _ := NewSchemaSynchronizer(store, "pivot", zap.NewNop())
			if _, err := s.EnsureColumns(context.Background(), cols); err != nil {
				t.Errorf("EnsureColumns: %v", err)
			}
		}()
	}
	wg.Wait()

	want := []string{"id", "timestamp", "Return_temperature", "Bit3_Brine_pump"}
	if got := store.columnNames("pivot"); !reflect.DeepEqual(got, want) {
		t.Fatalf("columns = %v, want %v", got, want)
	}
}

func TestEnsureColumns_ColumnNameCase(t *testing.T) {
	cols := []SchemaColumn{{Name: "Hot_water_temperature", Type: ColumnFloat}}

	tests := []struct {
		name     string
		foldCase bool
		wantAdds int
	}{
		{"postgres matches exactly", false, 1},
		{"mysql folds case", true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := newFakeStore()
			store.foldCase = tt.foldCase
			store.tables["pivot"] = []SchemaColumn{
				{Name: ColumnID}, {Name: ColumnTimestamp},
				{Name: "hot_water_temperature", Type: ColumnFloat},
			}
			s, _ := NewSchemaSynchronizer(store, "pivot", zap.NewNop())

			available, err := s.EnsureColumns(context.Background(), cols)
			if err != nil {
				t.Fatal(err)
			}
			if store.adds != tt.wantAdds {
				t.Fatalf("adds = %d, want %d", store.adds, tt.wantAdds)
			}
			if !available["Hot_water_temperature"] {
				t.Fatal("column not available")
			}

			// the row must be insertable with the requested spelling
			if err := store.Insert(context.Background(), "pivot",
				[]string{"Hot_water_temperature"}, []any{42.0}); err != nil {
				t.Fatalf("Insert: %v", err)
			}
		})
	}
}

func TestNewSchemaSynchronizer_RejectsBadTable(t *testing.T) {
	if _, err := NewSchemaSynchronizer(newFakeStore(), "pivot; DROP", zap.NewNop()); err == nil {
		t.Fatal("expected identifier error")
	}
}
