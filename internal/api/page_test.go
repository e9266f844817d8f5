package api

import "testing"

func TestParseWindow(t *testing.T) {
	body := []byte(`{"data":{"list":[
		{"issueNumber":"20250816100053","number":"5"},
		{"issueNumber":"20250816100052","number":7},
		{"issueNumber":"20250816100051","number":"2"}
	]}}`)

	w, err := ParseWindow(body)
	if err != nil {
		t.Fatalf("ParseWindow() error = %v", err)
	}

	wantDigits := []int{5, 7, 2}
	if len(w.Digits) != len(wantDigits) {
		t.Fatalf("Digits = %v, want %v", w.Digits, wantDigits)
	}
	for i, d := range wantDigits {
		if w.Digits[i] != d {
			t.Errorf("Digits[%d] = %d, want %d", i, w.Digits[i], d)
		}
	}

	if w.NextIssue != "20250816100054" {
		t.Errorf("NextIssue = %s, want 20250816100054", w.NextIssue)
	}
	if len(w.Raw) == 0 {
		t.Error("Raw snapshot is empty")
	}
}

func TestParseWindowErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"Пустой список", `{"data":{"list":[]}}`},
		{"Не JSON", `<html>cloudflare</html>`},
		{"Нечисловой номер тиража", `{"data":{"list":[{"issueNumber":"abc","number":"5"}]}}`},
		{"Исход вне диапазона", `{"data":{"list":[{"issueNumber":"10","number":"42"}]}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseWindow([]byte(tt.body)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParseLatest(t *testing.T) {
	body := []byte(`{"data":{"list":[
		{"issueNumber":"102","number":"9"},
		{"issueNumber":"101","number":"1"}
	]}}`)

	outcome, err := ParseLatest(body)
	if err != nil {
		t.Fatalf("ParseLatest() error = %v", err)
	}
	if outcome != 9 {
		t.Errorf("outcome = %d, want 9", outcome)
	}

	if _, err := ParseLatest([]byte(`{"data":{"list":[]}}`)); err == nil {
		t.Error("expected error for empty list")
	}
}
