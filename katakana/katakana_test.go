package katakana

import (
	"strings"
	"testing"
)

func TestMatch(t *testing.T) {
	tests := []struct {
		name  string
		in    string
		want  string
		start int
		ok    bool
	}{
		{"embedded in hiragana", "これはアルバイトです", "アルバイト", 9, true},
		{"whole string", "ターミネーター", "ターミネーター", 0, true},
		{"no katakana", "hello, 世界", "", 0, false},
		{"empty", "", "", 0, false},
		{"single character is not a run", "はアは", "", 0, false},
		{"prolonged sound mark cannot start", "ーアイ", "アイ", 3, true},
		{"middle dot joins words", "コーヒー・カップ!", "コーヒー・カップ", 0, true},
		{"middle dot cannot end", "ゲーム・", "ゲーム", 0, true},
		{"combining voiced mark", "ガム", "ガム", 0, true},
		{"half-width", "ｶﾀｶﾅ test", "ｶﾀｶﾅ", 0, true},
		{"half-width voiced mark", "ﾃﾞｰﾀ", "ﾃﾞｰﾀ", 0, true},
		{"leftmost wins", "abcテスト and デモ", "テスト", 3, true},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := Match(tc.in)
			if ok != tc.ok {
				t.Fatalf("Match(%q) ok = %v, want %v", tc.in, ok, tc.ok)
			}
			if !ok {
				return
			}
			if got.Text != tc.want || got.Start != tc.start {
				t.Fatalf("Match(%q) = {%q %d}, want {%q %d}", tc.in, got.Text, got.Start, tc.want, tc.start)
			}
			if tc.in[got.Start:got.End()] != got.Text {
				t.Fatalf("offsets do not address the match: %q", tc.in[got.Start:got.End()])
			}
		})
	}
}

func TestMatchDoesNotMixAlphabets(t *testing.T) {
	got, ok := Match("ｶﾀカナ")
	if !ok {
		t.Fatal("expected a match")
	}
	if got.Text != "ｶﾀ" {
		t.Fatalf("got %q, want half-width run only", got.Text)
	}
}

func TestSpans(t *testing.T) {
	in := "今日はコンピューターでゲームをしてからアルバイトに行く"
	var got []string
	for s := range Spans(in) {
		if in[s.Start:s.End()] != s.Text {
			t.Fatalf("span %q has bad offsets", s.Text)
		}
		got = append(got, s.Text)
	}
	want := []string{"コンピューター", "ゲーム", "アルバイト"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("Spans = %v, want %v", got, want)
	}
}

func TestSpansStopsEarly(t *testing.T) {
	n := 0
	for range Spans("アイ ウエ オカ") {
		n++
		if n == 2 {
			break
		}
	}
	if n != 2 {
		t.Fatalf("iterated %d spans, want 2", n)
	}
}

func TestSpansEmpty(t *testing.T) {
	for s := range Spans("ひらがなだけ") {
		t.Fatalf("unexpected span %q", s.Text)
	}
}

func TestContains(t *testing.T) {
	if !Contains("テスト") {
		t.Error("Contains(テスト) = false")
	}
	if Contains("test") {
		t.Error("Contains(test) = true")
	}
}
