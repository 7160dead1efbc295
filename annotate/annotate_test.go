package annotate

import (
	"strings"
	"testing"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

type collected struct {
	phrases []string
	targets []Target
}

func (c *collected) add(phrase string, t Target) {
	c.phrases = append(c.phrases, phrase)
	c.targets = append(c.targets, t)
}

func parseBody(t *testing.T, markup string) *html.Node {
	t.Helper()
	root, err := html.Parse(strings.NewReader("<html><body>" + markup + "</body></html>"))
	if err != nil {
		t.Fatalf("html.Parse: %v", err)
	}
	var body *html.Node
	var find func(*html.Node)
	find = func(n *html.Node) {
		if n.Type == html.ElementNode && n.DataAtom == atom.Body {
			body = n
			return
		}
		for c := n.FirstChild; c != nil && body == nil; c = c.NextSibling {
			find(c)
		}
	}
	find(root)
	return body
}

// visibleText concatenates text nodes, skipping generated <rt> slots.
func visibleText(n *html.Node) string {
	var b strings.Builder
	var walk func(*html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.TextNode {
			b.WriteString(n.Data)
		}
		if n.Type == html.ElementNode && n.DataAtom == atom.Rt {
			return
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	walk(n)
	return b.String()
}

func render(t *testing.T, n *html.Node) string {
	t.Helper()
	var b strings.Builder
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if err := html.Render(&b, c); err != nil {
			t.Fatalf("Render: %v", err)
		}
	}
	return b.String()
}

func TestScanSingleRun(t *testing.T) {
	body := parseBody(t, "これはアルバイトです")
	var got collected
	s := NewScanner(Options{OnTarget: got.add})

	if n := s.Scan(body); n != 1 {
		t.Fatalf("Scan() = %d, want 1", n)
	}
	if len(got.phrases) != 1 || got.phrases[0] != "アルバイト" {
		t.Fatalf("phrases = %v", got.phrases)
	}

	want := `これは<ruby>アルバイト<rt class="katakana-terminator-rt" data-rt=""></rt></ruby>です`
	if out := render(t, body); out != want {
		t.Fatalf("rendered\n%s\nwant\n%s", out, want)
	}
}

func TestScanPreservesText(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want []string
	}{
		{"several runs", "今日はコンピューターでゲームをしてからアルバイト", []string{"コンピューター", "ゲーム", "アルバイト"}},
		{"run at both edges", "テストとデモ", []string{"テスト", "デモ"}},
		{"adjacent to ascii", "Goのゴルーチンとチャネル!", []string{"ゴルーチン", "チャネル"}},
		{"half-width", "ﾃﾞｰﾀを見る", []string{"ﾃﾞｰﾀ"}},
		{"nothing", "ひらがなだけ", nil},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			body := parseBody(t, "<p>"+tc.in+"</p>")
			var got collected
			n := NewScanner(Options{OnTarget: got.add}).Scan(body)
			if n != len(tc.want) {
				t.Fatalf("Scan() = %d, want %d", n, len(tc.want))
			}
			if strings.Join(got.phrases, "|") != strings.Join(tc.want, "|") {
				t.Fatalf("phrases = %v, want %v", got.phrases, tc.want)
			}
			if text := visibleText(body); text != tc.in {
				t.Fatalf("text changed: %q, want %q", text, tc.in)
			}
		})
	}
}

func TestScanIsIdempotent(t *testing.T) {
	body := parseBody(t, "<div>ゲームと<b>アニメ</b></div>")
	var got collected
	s := NewScanner(Options{OnTarget: got.add})
	if n := s.Scan(body); n != 2 {
		t.Fatalf("first Scan() = %d, want 2", n)
	}
	before := render(t, body)
	if n := s.Scan(body); n != 0 {
		t.Fatalf("second Scan() = %d, want 0", n)
	}
	if after := render(t, body); after != before {
		t.Fatalf("second scan changed the tree:\n%s\n%s", before, after)
	}
}

func TestScanSkipsExcludedElements(t *testing.T) {
	body := parseBody(t, `<textarea>テキスト</textarea>`+
		`<select><option>オプション</option></select>`+
		`<script>var x = "スクリプト";</script>`+
		`<ruby>漢字<rt>カンジ</rt></ruby>`+
		`<div contenteditable="true"><p>エディター</p></div>`+
		`<div contenteditable="false"><p>リード</p></div>`+
		`<p>ビュー</p>`)
	var got collected
	NewScanner(Options{OnTarget: got.add}).Scan(body)
	if strings.Join(got.phrases, "|") != "リード|ビュー" {
		t.Fatalf("phrases = %v, want [リード ビュー]", got.phrases)
	}
}

func TestScanSkipSelectors(t *testing.T) {
	body := parseBody(t, `<nav class="menu"><a>ホーム</a></nav><p id="x">ニュース</p><p>ブログ</p>`)
	var got collected
	s := NewScanner(Options{SkipSelectors: []string{".menu", "#x"}, OnTarget: got.add})
	s.Scan(body)
	if strings.Join(got.phrases, "|") != "ブログ" {
		t.Fatalf("phrases = %v, want [ブログ]", got.phrases)
	}

	// A root below a skipped element is shielded as well.
	link := body.FirstChild.FirstChild
	if n := s.Scan(link); n != 0 {
		t.Fatalf("Scan(inside .menu) = %d, want 0", n)
	}
}

func TestScanInsertedIntoExcludedAncestor(t *testing.T) {
	body := parseBody(t, `<textarea></textarea>`)
	ta := body.FirstChild
	txt := &html.Node{Type: html.TextNode, Data: "カタカナ"}
	ta.AppendChild(txt)

	if n := NewScanner(Options{}).Scan(txt); n != 0 {
		t.Fatalf("Scan() = %d, want 0", n)
	}
}

func TestScanDetachedRoot(t *testing.T) {
	body := parseBody(t, `<p>テスト</p>`)
	p := body.FirstChild
	body.RemoveChild(p)

	attached := func(n *html.Node) bool {
		for ; n != nil; n = n.Parent {
			if n == body {
				return true
			}
		}
		return false
	}
	var got collected
	s := NewScanner(Options{Attached: attached, OnTarget: got.add})
	if n := s.Scan(p); n != 0 || len(got.phrases) != 0 {
		t.Fatalf("detached scan produced %d targets", n)
	}
}

func TestTargetSetGloss(t *testing.T) {
	body := parseBody(t, "アルバイト")
	var got collected
	NewScanner(Options{OnTarget: got.add}).Scan(body)
	tgt := got.targets[0]

	if tgt.Gloss() != "" {
		t.Fatalf("initial gloss = %q", tgt.Gloss())
	}
	tgt.SetGloss("part-time job")
	if tgt.Gloss() != "part-time job" {
		t.Fatalf("gloss = %q", tgt.Gloss())
	}
	if !strings.Contains(render(t, body), `data-rt="part-time job"`) {
		t.Fatalf("gloss not rendered: %s", render(t, body))
	}
	if tgt.Node().DataAtom != atom.Rt {
		t.Fatalf("target node is %s, want rt", tgt.Node().Data)
	}
}
