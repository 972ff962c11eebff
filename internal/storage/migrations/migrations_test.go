package migrations

import (
	"strings"
	"testing"
	"testing/fstest"
)

func TestLoad_Embedded(t *testing.T) {
	pg, err := Load(PostgresFS, "postgres")
	if err != nil {
		t.Fatal(err)
	}
	if len(pg) != 4 {
		t.Fatalf("postgres: got %d migrations, want 4", len(pg))
	}
	for i, m := range pg {
		if m.Version != i+1 {
			t.Errorf("postgres[%d].Version = %d, want %d", i, m.Version, i+1)
		}
	}
	if pg[0].Name != "escrows" || !strings.Contains(pg[0].SQL, "CREATE TABLE IF NOT EXISTS escrows") {
		t.Errorf("unexpected first migration %q", pg[0].Name)
	}

	ch, err := Load(ClickhouseFS, "clickhouse")
	if err != nil {
		t.Fatal(err)
	}
	if len(ch) == 0 {
		t.Fatal("clickhouse: no migrations embedded")
	}
	for _, m := range ch {
		for _, stmt := range splitStatements(m.SQL) {
			if strings.Contains(stmt, "--") {
				t.Errorf("%s: comment leaked into statement %q", m.Name, stmt)
			}
		}
	}
}

func TestLoad_OrdersByVersion(t *testing.T) {
	fsys := fstest.MapFS{
		"m/010_later.sql":   {Data: []byte("SELECT 10")},
		"m/002_earlier.sql": {Data: []byte("SELECT 2")},
		"m/README.md":       {Data: []byte("ignored")},
	}
	got, err := Load(fsys, "m")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0].Version != 2 || got[1].Version != 10 {
		t.Fatalf("got %+v", got)
	}
	if got[1].Name != "later" || got[1].SQL != "SELECT 10" {
		t.Errorf("got %+v", got[1])
	}
}

func TestLoad_Rejects(t *testing.T) {
	tests := map[string]fstest.MapFS{
		"no version":        {"m/escrows.sql": {}},
		"bad version":       {"m/abc_escrows.sql": {}},
		"zero version":      {"m/000_escrows.sql": {}},
		"duplicate version": {"m/001_a.sql": {}, "m/1_b.sql": {}},
	}
	for name, fsys := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := Load(fsys, "m"); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPending(t *testing.T) {
	all := []Migration{{Version: 1}, {Version: 2}, {Version: 3}}
	got := pending(all, map[int]bool{1: true, 3: true})
	if len(got) != 1 || got[0].Version != 2 {
		t.Errorf("got %+v", got)
	}
}

func TestSplitStatements(t *testing.T) {
	in := "-- header\nCREATE TABLE a (x UInt8);\n\nCREATE TABLE b (y UInt8) -- trailing; note\n;\n"
	got := splitStatements(in)
	if len(got) != 2 {
		t.Fatalf("got %d statements, want 2: %q", len(got), got)
	}
	if got[0] != "CREATE TABLE a (x UInt8)" {
		t.Errorf("first statement = %q", got[0])
	}
	if got[1] != "CREATE TABLE b (y UInt8)" {
		t.Errorf("second statement = %q", got[1])
	}
}

func TestSplitStatements_QuotedSemicolons(t *testing.T) {
	got := splitStatements("SELECT 'a;b'; SELECT 'it''s; fine'; SELECT '--not a comment'")
	want := []string{"SELECT 'a;b'", "SELECT 'it''s; fine'", "SELECT '--not a comment'"}
	if len(got) != len(want) {
		t.Fatalf("got %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("stmt %d = %q, want %q", i, got[i], want[i])
		}
	}
}
