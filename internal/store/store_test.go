package store

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"
)

func TestGenerateAPIKey(t *testing.T) {
	key, hash, prefix, err := GenerateAPIKey()
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if !strings.HasPrefix(key, "tsk_") || len(key) != 68 {
		t.Errorf("unexpected key shape: %q", key)
	}
	if prefix != key[:APIKeyPrefixLength] {
		t.Errorf("prefix %q does not match key", prefix)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		t.Errorf("hash does not verify: %v", err)
	}

	other, _, _, _ := GenerateAPIKey()
	if other == key {
		t.Error("keys must be random")
	}
}

func TestUpdateProjectParams_Validate(t *testing.T) {
	shadow, bad, empty := ModeShadow, "audit", ""
	if err := (UpdateProjectParams{Mode: &shadow}).Validate(); err != nil {
		t.Errorf("shadow should be valid: %v", err)
	}
	if err := (UpdateProjectParams{Mode: &bad}).Validate(); !errors.Is(err, ErrInvalidMode) {
		t.Errorf("expected ErrInvalidMode, got %v", err)
	}
	if err := (UpdateProjectParams{Name: &empty}).Validate(); err == nil {
		t.Error("expected error for empty name")
	}
}

func TestCheckOverride(t *testing.T) {
	canonical, o, err := CheckOverride(json.RawMessage(`{ "categories": { "spam": { "weight": 0.5 } } }`))
	if err != nil {
		t.Fatalf("check: %v", err)
	}
	if string(canonical) != `{"categories":{"spam":{"weight":0.5}}}` {
		t.Errorf("canonical: %s", canonical)
	}
	if *o.Categories["spam"].Weight != 0.5 {
		t.Errorf("decoded: %+v", o)
	}

	tests := []struct {
		name string
		raw  string
	}{
		{"schema violation", `{"categories":{"gore":{"weight":0.5}}}`},
		{"inverted levels", `{"levels":{"low_max":0.9}}`},
		{"malformed", `{`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := CheckOverride(json.RawMessage(tt.raw))
			if !errors.Is(err, ErrInvalidPolicy) {
				t.Errorf("expected ErrInvalidPolicy, got %v", err)
			}
		})
	}
}

func TestCheckOverride_EmptyIsObject(t *testing.T) {
	canonical, o, err := CheckOverride(nil)
	if err != nil {
		t.Fatal(err)
	}
	if string(canonical) != "{}" || !o.IsEmpty() {
		t.Errorf("expected {}, got %s", canonical)
	}
}

func TestProjectWithPolicy_Override(t *testing.T) {
	pw := &ProjectWithPolicy{
		Project:        Project{ID: "p1", Mode: ModeShadow},
		PolicyOverride: json.RawMessage(`{"levels":{"medium_max":0.8}}`),
	}
	o, err := pw.Override()
	if err != nil {
		t.Fatalf("override: %v", err)
	}
	if *o.Levels.MediumMax != 0.8 {
		t.Errorf("levels: %+v", o.Levels)
	}
	if !pw.IsShadow() {
		t.Error("expected shadow")
	}

	pw.PolicyOverride = json.RawMessage(`{"categories":{"gore":{}}}`)
	if _, err := pw.Override(); err == nil || !strings.Contains(err.Error(), "p1") {
		t.Errorf("expected error naming the project, got %v", err)
	}
}
