package process

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

const (
	pasteStart = "\x1b[200~"
	pasteEnd   = "\x1b[201~"
)

// namedKeys maps lower-cased key names to the bytes a terminal would send.
var namedKeys = map[string]string{
	"enter":     "\r",
	"return":    "\r",
	"tab":       "\t",
	"escape":    "\x1b",
	"esc":       "\x1b",
	"backspace": "\x7f",
	"space":     " ",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"insert":    "\x1b[2~",
	"delete":    "\x1b[3~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

func init() {
	for c := 'a'; c <= 'z'; c++ {
		namedKeys["ctrl+"+string(c)] = string(rune(c - 'a' + 1))
	}
	namedKeys["ctrl+["] = "\x1b"
	namedKeys["ctrl+\\"] = "\x1c"
	namedKeys["ctrl+]"] = "\x1d"
}

// EncodeKeys translates key names ("Ctrl+C", "Enter", "Up", ...) into one byte
// sequence. A single character that is not a known name is sent as-is.
func EncodeKeys(keys []string) (string, error) {
	var b strings.Builder
	for _, k := range keys {
		norm := strings.ToLower(strings.ReplaceAll(strings.TrimSpace(k), " ", ""))
		norm = strings.Replace(norm, "control+", "ctrl+", 1)
		norm = strings.Replace(norm, "ctrl-", "ctrl+", 1)
		if seq, ok := namedKeys[norm]; ok {
			b.WriteString(seq)
			continue
		}
		if utf8.RuneCountInString(k) == 1 {
			b.WriteString(k)
			continue
		}
		return "", fmt.Errorf("unknown key: %q", k)
	}
	return b.String(), nil
}

// WrapPaste wraps text in bracketed-paste markers.
func WrapPaste(text string) string {
	return pasteStart + text + pasteEnd
}
