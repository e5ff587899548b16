package messaging

// Emojis is the fixed reaction set, in display order.
var Emojis = []string{"👍", "❤️", "😂", "😮", "😢", "👏"}

var emojiSet = func() map[string]struct{} {
	m := make(map[string]struct{}, len(Emojis))
	for _, e := range Emojis {
		m[e] = struct{}{}
	}
	return m
}()

// IsValidEmoji reports whether e belongs to the reaction set.
func IsValidEmoji(e string) bool {
	_, ok := emojiSet[e]
	return ok
}
