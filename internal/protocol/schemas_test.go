package protocol

import "testing"

func TestValidateJSON_Inventory(t *testing.T) {
	ok := `[{"slot":"0","item_id":"sword","params":{"dmg":5}},{"slot":"1","item_id":"shield"}]`
	if err := ValidateJSON(SchemaInventory, []byte(ok)); err != nil {
		t.Fatalf("valid inventory rejected: %v", err)
	}
	for _, bad := range []string{
		`{not json`,
		`{"slot":"0"}`,
		`[{"slot":"0"}]`,
		`[{"slot":0,"item_id":"x"}]`,
	} {
		if err := ValidateJSON(SchemaInventory, []byte(bad)); err == nil {
			t.Fatalf("expected rejection for %s", bad)
		}
	}
}

func TestValidateJSON_Quests(t *testing.T) {
	ok := `[{"id":"q1","title":"Rats","text":"Clear the cellar","completed":false,"progress":3}]`
	if err := ValidateJSON(SchemaQuests, []byte(ok)); err != nil {
		t.Fatalf("valid quests rejected: %v", err)
	}
	if err := ValidateJSON(SchemaQuests, []byte(`[{"id":"q1","title":"t","text":"x","completed":false,"progress":-1}]`)); err == nil {
		t.Fatalf("expected negative progress rejected")
	}
	if err := ValidateJSON(SchemaQuests, []byte(`[{"id":"q1"}]`)); err == nil {
		t.Fatalf("expected missing fields rejected")
	}
}

func TestValidateJSON_Metadata(t *testing.T) {
	if err := ValidateJSON(SchemaMetadata, []byte(`{"boss":"dragon"}`)); err != nil {
		t.Fatalf("valid metadata rejected: %v", err)
	}
	if err := ValidateJSON(SchemaMetadata, []byte(`"plain"`)); err == nil {
		t.Fatalf("expected non-object metadata rejected")
	}
	if err := ValidateJSON("nope.json", []byte(`{}`)); err == nil {
		t.Fatalf("expected unknown schema error")
	}
}
