package theme

import (
	"os"
	"strings"
)

// SymbolSet holds all UI symbols, allowing runtime switching between
// Unicode and ASCII fallback sets.
type SymbolSet struct {
	Success   string
	Error     string
	Warning   string
	Info      string
	ArrowR    string
	Bullet    string
	Expanded  string
	Collapsed string
	Cursor    string
}

var unicodeSymbols = SymbolSet{
	Success:   "\u2713", // ✓
	Error:     "\u2717", // ✗
	Warning:   "\u26A0", // ⚠
	Info:      "\u25CF", // ●
	ArrowR:    "\u2192", // →
	Bullet:    "\u2022", // •
	Expanded:  "\u25BE", // ▾
	Collapsed: "\u25B8", // ▸
	Cursor:    "\u276F", // ❯
}

var asciiSymbols = SymbolSet{
	Success:   "[OK]",
	Error:     "[X]",
	Warning:   "[!]",
	Info:      "[i]",
	ArrowR:    "->",
	Bullet:    "*",
	Expanded:  "v",
	Collapsed: ">",
	Cursor:    ">",
}

// DetectUnicodeSupport checks whether the terminal likely supports Unicode.
// PINTRAINER_ASCII_SYMBOLS forces ASCII; otherwise the locale decides.
func DetectUnicodeSupport() bool {
	if v := os.Getenv("PINTRAINER_ASCII_SYMBOLS"); v == "1" || strings.EqualFold(v, "true") {
		return false
	}

	for _, key := range []string{"LC_ALL", "LC_CTYPE", "LANG"} {
		val := strings.ToLower(os.Getenv(key))
		if strings.Contains(val, "utf-8") || strings.Contains(val, "utf8") {
			return true
		}
	}

	// Most modern terminals support Unicode; default to true.
	return true
}

// InitSymbols sets the package-level Symbol* variables based on terminal
// capabilities. Called automatically by init(), but can be called again
// if the environment changes (e.g., in tests).
func InitSymbols() {
	set := unicodeSymbols
	if !DetectUnicodeSupport() {
		set = asciiSymbols
	}

	SymbolSuccess = set.Success
	SymbolError = set.Error
	SymbolWarning = set.Warning
	SymbolInfo = set.Info
	SymbolArrowR = set.ArrowR
	SymbolBullet = set.Bullet
	SymbolExpanded = set.Expanded
	SymbolCollapsed = set.Collapsed
	SymbolCursor = set.Cursor
}

func init() {
	InitSymbols()
}
