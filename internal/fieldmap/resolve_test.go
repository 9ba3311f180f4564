package fieldmap

import "testing"

func testTable(t *testing.T) *Table {
	t.Helper()
	table, err := New([]Entry{
		{LocalPath: "name", PrimaryName: "品名", FieldID: "fld001", FallbackFieldID: "fld002"},
		{LocalPath: "alias.name", PrimaryName: "Product Name", FieldID: "fld002"},
		{LocalPath: "notes", PrimaryName: "备注", FieldID: "fld003"},
		{LocalPath: "origin.province", PrimaryName: "产地（省）", FieldID: "fld004"},
	})
	if err != nil {
		t.Fatalf("building test table: %v", err)
	}
	return table
}

func TestResolve_PrimaryWinsOverFallback(t *testing.T) {
	table := testTable(t)
	fields := NewFields(map[string]any{
		"品名":           "乌龙茶",
		"Product Name": "Oolong Tea",
	})

	e, _ := table.ByPath("name")
	v, ok := table.Resolve(fields, e)
	if !ok {
		t.Fatal("expected a value")
	}
	if v != "乌龙茶" {
		t.Errorf("expected primary value 乌龙茶, got %v", v)
	}
}

func TestResolve_FallbackThroughFieldID(t *testing.T) {
	table := testTable(t)

	tests := []struct {
		name   string
		fields map[string]any
		want   any
		wantOK bool
	}{
		{
			name:   "primary missing, fallback present",
			fields: map[string]any{"Product Name": "Oolong Tea"},
			want:   "Oolong Tea",
			wantOK: true,
		},
		{
			name:   "primary empty string, fallback present",
			fields: map[string]any{"品名": "", "Product Name": "Oolong Tea"},
			want:   "Oolong Tea",
			wantOK: true,
		},
		{
			name:   "primary empty array, fallback present",
			fields: map[string]any{"品名": []any{}, "Product Name": "Oolong Tea"},
			want:   "Oolong Tea",
			wantOK: true,
		},
		{
			name:   "both absent",
			fields: map[string]any{"备注": "something else"},
			wantOK: false,
		},
		{
			name:   "both empty",
			fields: map[string]any{"品名": "", "Product Name": ""},
			wantOK: false,
		},
	}

	e, _ := table.ByPath("name")
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v, ok := table.Resolve(NewFields(tt.fields), e)
			if ok != tt.wantOK {
				t.Fatalf("ok = %v, want %v", ok, tt.wantOK)
			}
			if ok && v != tt.want {
				t.Errorf("value = %v, want %v", v, tt.want)
			}
		})
	}
}

func TestResolve_NoFallbackConfigured(t *testing.T) {
	table := testTable(t)
	e, _ := table.ByPath("notes")

	if _, ok := table.Resolve(NewFields(map[string]any{}), e); ok {
		t.Error("expected absent for missing field without fallback")
	}
}

func TestResolve_DanglingFallbackIsAbsentNotError(t *testing.T) {
	// Hand-assembled table bypassing New's validation: a dangling fallback
	// must resolve to absent (configuration warning), never fail.
	table := &Table{
		byPath:    map[string]Entry{},
		byFieldID: map[string]Entry{},
	}
	e := Entry{LocalPath: "name", PrimaryName: "品名", FieldID: "fld001", FallbackFieldID: "fld999"}

	if _, ok := table.Resolve(NewFields(map[string]any{}), e); ok {
		t.Error("expected absent for dangling fallback")
	}
}

func TestResolve_WidthNormalizedHeaders(t *testing.T) {
	table := testTable(t)
	// The record was written when the header used half-width parens.
	fields := NewFields(map[string]any{"产地(省)": "福建省"})

	e, _ := table.ByPath("origin.province")
	v, ok := table.Resolve(fields, e)
	if !ok {
		t.Fatal("expected a value for width-variant header")
	}
	if v != "福建省" {
		t.Errorf("expected 福建省, got %v", v)
	}
}

func TestResolvePath_UnknownPath(t *testing.T) {
	table := testTable(t)
	if _, ok := table.ResolvePath(NewFields(map[string]any{"品名": "x"}), "nope"); ok {
		t.Error("expected absent for unknown path")
	}
}
