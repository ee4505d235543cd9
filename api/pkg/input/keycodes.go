package input

// KeyDefinition describes how a logical key is presented to the debug
// channel: its physical code, Windows virtual-key code and, for printable
// keys, the text it produces.
type KeyDefinition struct {
	Code   string
	VKCode int
	Text   string
}

// KeyDefinitionFor resolves a wire key name ("Enter", "a", "ArrowLeft", ...)
// to a key definition. The table covers the common control, arrow, function,
// space and alphanumeric keys; anything else returns ok=false and is
// dispatched without a virtual-key code.
func KeyDefinitionFor(key string) (KeyDefinition, bool) {
	if def, ok := namedKeys[key]; ok {
		return def, true
	}
	if len(key) == 1 {
		c := key[0]
		switch {
		case c >= 'a' && c <= 'z':
			return KeyDefinition{Code: "Key" + string(c-'a'+'A'), VKCode: int(c - 'a' + 'A'), Text: key}, true
		case c >= 'A' && c <= 'Z':
			return KeyDefinition{Code: "Key" + key, VKCode: int(c), Text: key}, true
		case c >= '0' && c <= '9':
			return KeyDefinition{Code: "Digit" + key, VKCode: int(c), Text: key}, true
		case c == ' ':
			return KeyDefinition{Code: "Space", VKCode: 32, Text: " "}, true
		}
	}
	return KeyDefinition{}, false
}

var namedKeys = map[string]KeyDefinition{
	"Backspace":  {Code: "Backspace", VKCode: 8},
	"Tab":        {Code: "Tab", VKCode: 9},
	"Enter":      {Code: "Enter", VKCode: 13, Text: "\r"},
	"Shift":      {Code: "ShiftLeft", VKCode: 16},
	"Control":    {Code: "ControlLeft", VKCode: 17},
	"Alt":        {Code: "AltLeft", VKCode: 18},
	"Pause":      {Code: "Pause", VKCode: 19},
	"CapsLock":   {Code: "CapsLock", VKCode: 20},
	"Escape":     {Code: "Escape", VKCode: 27},
	"Space":      {Code: "Space", VKCode: 32, Text: " "},
	"PageUp":     {Code: "PageUp", VKCode: 33},
	"PageDown":   {Code: "PageDown", VKCode: 34},
	"End":        {Code: "End", VKCode: 35},
	"Home":       {Code: "Home", VKCode: 36},
	"ArrowLeft":  {Code: "ArrowLeft", VKCode: 37},
	"ArrowUp":    {Code: "ArrowUp", VKCode: 38},
	"ArrowRight": {Code: "ArrowRight", VKCode: 39},
	"ArrowDown":  {Code: "ArrowDown", VKCode: 40},
	"Insert":     {Code: "Insert", VKCode: 45},
	"Delete":     {Code: "Delete", VKCode: 46},
	"Meta":       {Code: "MetaLeft", VKCode: 91},
	"F1":         {Code: "F1", VKCode: 112},
	"F2":         {Code: "F2", VKCode: 113},
	"F3":         {Code: "F3", VKCode: 114},
	"F4":         {Code: "F4", VKCode: 115},
	"F5":         {Code: "F5", VKCode: 116},
	"F6":         {Code: "F6", VKCode: 117},
	"F7":         {Code: "F7", VKCode: 118},
	"F8":         {Code: "F8", VKCode: 119},
	"F9":         {Code: "F9", VKCode: 120},
	"F10":        {Code: "F10", VKCode: 121},
	"F11":        {Code: "F11", VKCode: 122},
	"F12":        {Code: "F12", VKCode: 123},
}
