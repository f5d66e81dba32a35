package format

// ByteIndex converts a UTF-16 code-unit offset (the Telegram entity
// convention) into a byte index into text. Code points above the Basic
// Multilingual Plane occupy two code units, everything else one. An
// offset that would land inside a surrogate pair snaps forward to the
// next rune boundary, so a span never splits a character.
func ByteIndex(text string, utf16Offset int) int {
	if utf16Offset <= 0 {
		return 0
	}
	units := 0
	for i, r := range text {
		if units >= utf16Offset {
			return i
		}
		if r > 0xFFFF {
			units += 2
		} else {
			units++
		}
	}
	return len(text)
}
