package security

import "testing"

func TestInputSanitizer_Sanitize(t *testing.T) {
	sanitizer := NewInputSanitizer()

	tests := []struct {
		name  string
		input string
		want  string
	}{
		{"空文字", "", ""},
		{"プレーンテキストはそのまま", "Kitchen Remodel", "Kitchen Remodel"},
		{"アポストロフィを保持", "O'Brien's Project", "O'Brien's Project"},
		{"アンパサンドを保持", "Smith & Sons", "Smith & Sons"},
		{"前後の空白を除去", "  Acme  ", "Acme"},
		{"タグを除去", "<b>Bold</b> name", "Bold name"},
		{"scriptは中身ごと除去", "<script>alert('x')</script>Acme", "Acme"},
		{"イベント属性を除去", `<img src=x onerror="alert(1)">Acme`, "Acme"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := sanitizer.Sanitize(tt.input); got != tt.want {
				t.Errorf("Sanitize(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestInputSanitizer_Idempotent(t *testing.T) {
	sanitizer := NewInputSanitizer()
	input := "<p>Tom & Jerry's</p>"
	first := sanitizer.Sanitize(input)
	if second := sanitizer.Sanitize(first); second != first {
		t.Errorf("Sanitize is not idempotent: %q -> %q", first, second)
	}
}
