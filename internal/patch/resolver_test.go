package patch

import "testing"

func TestDecideRules(t *testing.T) {
	p := testPalette()

	tests := []struct {
		path string
		key  string
		rule string
		want string
	}{
		{path: "/lockLayer/title", key: "textColor", rule: "text", want: "#FFFFFF"},
		{path: "/lockLayer", key: "color", rule: "text", want: "#FFFFFF"},
		{path: "/homeLayer/navigation", key: "iconColor", rule: "text", want: "#FFFFFF"},
		{path: "/sendLayer/recipientInput", key: "placeholderColor", rule: "text", want: "#FFFFFF"},
		{path: "/sendLayer/recipientInput", key: "borderColor", rule: "border", want: "rgba(255,255,255,0.24)"},
		{path: "/lockLayer/unlockButton", key: "backgroundColor", rule: "action-background", want: "#7C3AED"},
		{path: "/homeLayer/actionButtons", key: "backgroundColor", rule: "action-background", want: "#7C3AED"},
		{path: "/homeLayer/assetList", key: "backgroundColor", rule: "list-surface", want: "#1F2430"},
		{path: "/homeLayer/dropdown", key: "fillColor", rule: "list-surface", want: "#1F2430"},
		{path: "/swapLayer", key: "backgroundColor", rule: "root-background", want: "#0E1016"},
		{path: "/homeLayer/header", key: "backgroundColor", rule: "panel", want: "#1F2430"},
		{path: "/receiveLayer/qrCard", key: "shadowColor", rule: "panel", want: "#1F2430"},
		{path: "/homeLayer/transactionStatus", key: "backgroundColor", rule: "background", want: "#0E1016"},
		{path: "/homeLayer/transactionStatus", key: "successColor", rule: "fallback", want: "#FFFFFF"},
	}

	for _, test := range tests {
		t.Run(test.path+"/"+test.key, func(t *testing.T) {
			got, rule := NewResolver(nil).Decide(test.path, test.key, p)
			if rule != test.rule {
				t.Fatalf("rule = %q, want %q", rule, test.rule)
			}
			if got != test.want {
				t.Fatalf("color = %q, want %q", got, test.want)
			}
			if color := NewResolver(nil).DecideColor(test.path, test.key, p); color != got {
				t.Fatalf("DecideColor() = %q, want %q", color, got)
			}
		})
	}
}

func TestSplitWords(t *testing.T) {
	tests := map[string][]string{
		"unlockButton":      {"unlock", "button"},
		"transactionStatus": {"transaction", "status"},
		"QRCode":            {"qr", "code"},
		"bg_color":          {"bg", "color"},
		"layer2Title":       {"layer2", "title"},
	}
	for input, want := range tests {
		got := splitWords(input)
		if len(got) != len(want) {
			t.Fatalf("splitWords(%q) = %v, want %v", input, got, want)
		}
		for i := range want {
			if got[i] != want[i] {
				t.Fatalf("splitWords(%q) = %v, want %v", input, got, want)
			}
		}
	}

	if hasWord("transactionStatus", "action") {
		t.Fatalf("transactionStatus must not match action")
	}
	if !hasWord("actionButtons", "button") {
		t.Fatalf("plural button should match")
	}
}

func TestIsForbiddenKey(t *testing.T) {
	forbidden := []string{"backgroundImage", "logoUrl", "iconSvg", "href", "imageSrc", "tokenIcon", "svgPath", "brandLogo"}
	for _, key := range forbidden {
		if !IsForbiddenKey(key) {
			t.Errorf("IsForbiddenKey(%q) = false, want true", key)
		}
	}
	allowed := []string{"backgroundColor", "iconColor", "textColor", "securityColor"}
	for _, key := range allowed {
		if IsForbiddenKey(key) {
			t.Errorf("IsForbiddenKey(%q) = true, want false", key)
		}
	}
}

func TestIsEligible(t *testing.T) {
	doc := mustDoc(t, walletTheme)
	resolver := NewResolver([]string{"/homeLayer"})

	if resolver.IsEligible(doc, "/homeLayer", "backgroundColor") {
		t.Fatalf("background color beside backgroundImage must be protected")
	}
	if !resolver.IsEligible(doc, "/homeLayer", "textColor") {
		t.Fatalf("text color beside backgroundImage stays editable")
	}
	if resolver.IsEligible(doc, "/homeLayer/assetList", "iconUrl") {
		t.Fatalf("url keys are forbidden")
	}
	if resolver.IsEligible(doc, "/lockLayer", "backgroundColor") {
		t.Fatalf("path outside allow-list must be rejected")
	}

	empty := mustDoc(t, `{"homeLayer":{"backgroundImage":"  ","backgroundColor":"#000"}}`)
	if !NewResolver(nil).IsEligible(empty, "/homeLayer", "backgroundColor") {
		t.Fatalf("blank backgroundImage should not protect")
	}
}
