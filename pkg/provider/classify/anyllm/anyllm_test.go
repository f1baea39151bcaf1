package anyllm

import "testing"

func TestParseResult(t *testing.T) {
	got, err := parseResult(`{"language":"en","topic":"directions","confidence":0.92}`)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if got.Language != "en" || got.Topic != "directions" || got.Confidence != 0.92 {
		t.Errorf("parseResult = %+v", got)
	}
}

func TestParseResultToleratesFences(t *testing.T) {
	reply := "```json\n{\"language\":\"de\",\"topic\":\"weather\",\"confidence\":0.8}\n```"
	got, err := parseResult(reply)
	if err != nil {
		t.Fatalf("parseResult: %v", err)
	}
	if got.Language != "de" {
		t.Errorf("Language = %q, want de", got.Language)
	}
}

func TestParseResultRejectsProse(t *testing.T) {
	if _, err := parseResult("the language is English"); err == nil {
		t.Error("parseResult accepted a reply without JSON")
	}
}
