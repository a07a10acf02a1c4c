package theme

import "testing"

func TestUnicodeTerminal(t *testing.T) {
	tests := []struct {
		name string
		env  map[string]string
		want bool
	}{
		{"no locale", nil, true},
		{"utf8 lang", map[string]string{"LANG": "en_US.UTF-8"}, true},
		{"lc_all wins", map[string]string{"LC_ALL": "C", "LANG": "en_US.UTF-8"}, false},
		{"forced ascii", map[string]string{"ASKUNI_ASCII": "1", "LANG": "en_US.UTF-8"}, false},
		{"dumb term", map[string]string{"TERM": "dumb"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := unicodeTerminal(func(k string) string { return tt.env[k] })
			if got != tt.want {
				t.Errorf("unicodeTerminal = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestUseASCII(t *testing.T) {
	defer UseASCII(false)

	UseASCII(true)
	if !ASCII || SymbolAttach != "[file]" || SymbolArrowR != ">" {
		t.Errorf("ascii glyphs = %q %q", SymbolAttach, SymbolArrowR)
	}
	UseASCII(false)
	if SymbolArrowR != "→" {
		t.Errorf("unicode arrow = %q", SymbolArrowR)
	}
}
