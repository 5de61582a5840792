package dictionary

// staticCandidates is offered when a reading has no dictionary matches.
var staticCandidates = map[string][]string{
	"わたし":        {"私"},
	"にほん":        {"日本"},
	"にっぽん":       {"日本"},
	"がっこう":       {"学校"},
	"きょう":        {"今日", "京都"},
	"とうきょう":      {"東京"},
	"ありがとうございます": {"有難うございます", "ありがとうございます"},
}

// StaticCandidates returns the built-in candidates for reading, or nil.
func StaticCandidates(reading string) []string {
	return staticCandidates[reading]
}
