package scope

import (
	"errors"
	"testing"
)

func TestRefValidate(t *testing.T) {
	cases := []struct {
		name    string
		ref     Ref
		wantErr bool
	}{
		{"global without id", Global, false},
		{"global with id", Ref{Level: LevelGlobal, ID: "root"}, true},
		{"client with id", Ref{Level: LevelClient, ID: "C1"}, false},
		{"site missing id", Ref{Level: LevelSite}, true},
		{"project blank id", Ref{Level: LevelProject, ID: "  "}, true},
		{"unknown level", Ref{Level: Level("region"), ID: "R1"}, true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.ref.Validate()
			if tc.wantErr && err == nil {
				t.Fatalf("expected error for %+v", tc.ref)
			}
			if !tc.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if err != nil && !errors.Is(err, ErrInvalidRef) {
				t.Fatalf("expected ErrInvalidRef, got %v", err)
			}
		})
	}
}

func TestParseRefRoundTrip(t *testing.T) {
	for _, raw := range []string{"global", "client:C1", "site:S4", "project:P9"} {
		ref, err := ParseRef(raw)
		if err != nil {
			t.Fatalf("parse %q: %v", raw, err)
		}
		if ref.String() != raw {
			t.Fatalf("round trip %q -> %q", raw, ref.String())
		}
	}
	if _, err := ParseRef("site"); err == nil {
		t.Fatal("expected error for level without id")
	}
	if _, err := ParseRef("warehouse:W1"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestPathValidate(t *testing.T) {
	good := Path{
		{Level: LevelProject, ID: "P9"},
		{Level: LevelSite, ID: "S4"},
		{Level: LevelClient, ID: "C1"},
		Global,
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid path rejected: %v", err)
	}
	if !good.Contains(Ref{Level: LevelClient, ID: "C1"}) {
		t.Fatal("expected client ancestor on path")
	}
	if good.Contains(Ref{Level: LevelClient, ID: "C2"}) {
		t.Fatal("sibling client must not appear on path")
	}

	truncated := Path{{Level: LevelSite, ID: "S4"}, {Level: LevelClient, ID: "C1"}}
	if err := truncated.Validate(); err == nil {
		t.Fatal("path without global root must be rejected")
	}
	disordered := Path{Global, {Level: LevelSite, ID: "S4"}}
	if err := disordered.Validate(); err == nil {
		t.Fatal("path ordered root-first must be rejected")
	}
}

func TestLevelBroader(t *testing.T) {
	if !LevelGlobal.Broader(LevelSite) {
		t.Fatal("global should be broader than site")
	}
	if LevelProject.Broader(LevelSite) {
		t.Fatal("project is not broader than site")
	}
	if LevelSite.Broader(LevelSite) {
		t.Fatal("a level is not broader than itself")
	}
}
