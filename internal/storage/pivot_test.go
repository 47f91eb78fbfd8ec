package storage

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/KevinKickass/OpenHeatTelemetry/internal/types"
	"go.uber.org/zap"
)

func ptr(v float64) *float64 { return &v }

func TestPivotWriter_FailedReadBecomesNull(t *testing.T) {
	store := newFakeStore()
	w, err := NewPivotWriter(store, "macon_pivot", nil, zap.NewNop())
	if err != nil {
		t.Fatal(err)
	}

	row := NewRow(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	row.AddFloat("Outdoor_temperature", ptr(4.5))
	row.AddFloat("Flow_temperature", nil) // read failed
	row.AddBool("Bit5_Defrost", true)

	if err := w.Write(context.Background(), row); err != nil {
		t.Fatalf("Write: %v", err)
	}

	rows := store.rows["macon_pivot"]
	if len(rows) != 1 {
		t.Fatalf("got %d rows, want 1", len(rows))
	}
	got := rows[0]
	if got["Outdoor_temperature"] != 4.5 {
		t.Errorf("Outdoor_temperature = %v", got["Outdoor_temperature"])
	}
	if v, ok := got["Flow_temperature"]; !ok || v != nil {
		t.Errorf("Flow_temperature = %v (present %v), want NULL", v, ok)
	}
	if got["Bit5_Defrost"] != true {
		t.Errorf("Bit5_Defrost = %v", got["Bit5_Defrost"])
	}
}

func TestPivotWriter_Auxiliary(t *testing.T) {
	aux := &Auxiliary{Table: "mbus2", Column: "Volumeflow", Key: "id", Target: "Volumeflow"}

	t.Run("latest value", func(t *testing.T) {
		store := newFakeStore()
		store.latest = ptr(1.25)
		w, _ := NewPivotWriter(store, "pivot", aux, zap.NewNop())
		if err := w.Write(context.Background(), NewRow(time.Now())); err != nil {
			t.Fatal(err)
		}
		if got := store.rows["pivot"][0]["Volumeflow"]; got != 1.25 {
			t.Fatalf("Volumeflow = %v", got)
		}
	})

	t.Run("fetch failure is null", func(t *testing.T) {
		store := newFakeStore()
		store.latestErr = errors.New("table mbus2 doesn't exist")
		w, _ := NewPivotWriter(store, "pivot", aux, zap.NewNop())
		if err := w.Write(context.Background(), NewRow(time.Now())); err != nil {
			t.Fatalf("aux failure aborted the row: %v", err)
		}
		row := store.rows["pivot"][0]
		if v, ok := row["Volumeflow"]; !ok || v != nil {
			t.Fatalf("Volumeflow = %v (present %v), want NULL", v, ok)
		}
	})
}

func TestPivotWriter_DropsColumnThatCouldNotBeAdded(t *testing.T) {
	store := newFakeStore()
	store.failAdd["Bit7_Alarm"] = true
	w, _ := NewPivotWriter(store, "pivot", nil, zap.NewNop())

	row := NewRow(time.Now())
	row.AddFloat("Hot_water_temperature", ptr(48))
	row.AddBool("Bit7_Alarm", false)

	if err := w.Write(context.Background(), row); err != nil {
		t.Fatal(err)
	}
	got := store.rows["pivot"][0]
	if _, ok := got["Bit7_Alarm"]; ok {
		t.Error("row carries a column the table does not have")
	}
	if got["Hot_water_temperature"] != 48.0 {
		t.Errorf("Hot_water_temperature = %v", got["Hot_water_temperature"])
	}
}

func TestPivotWriter_InsertFailure(t *testing.T) {
	store := newFakeStore()
	store.insertErr = errors.New("connection reset")
	w, _ := NewPivotWriter(store, "pivot", nil, zap.NewNop())

	err := w.Write(context.Background(), NewRow(time.Now()))
	if !errors.Is(err, types.ErrPersistenceWriteFailed) {
		t.Fatalf("err = %v, want ErrPersistenceWriteFailed", err)
	}
}

func TestPivotWriter_OneRowPerPoll(t *testing.T) {
	store := newFakeStore()
	w, _ := NewPivotWriter(store, "pivot", nil, zap.NewNop())
	for i := 0; i < 3; i++ {
		row := NewRow(time.Now())
		row.AddFloat("Outdoor_temperature", ptr(float64(i)))
		if err := w.Write(context.Background(), row); err != nil {
			t.Fatal(err)
		}
	}
	if n := len(store.rows["pivot"]); n != 3 {
		t.Fatalf("got %d rows, want 3", n)
	}
}

func TestValidateIdentifier(t *testing.T) {
	for _, ok := range []string{"macon_pivot", "Bit5_Defrost", "T2004"} {
		if err := ValidateIdentifier(ok); err != nil {
			t.Errorf("%q rejected: %v", ok, err)
		}
	}
	for _, bad := range []string{"", "a b", "x;DROP", "name`", `a"b`} {
		if err := ValidateIdentifier(bad); err == nil {
			t.Errorf("%q accepted", bad)
		}
	}
}
