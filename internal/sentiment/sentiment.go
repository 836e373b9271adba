// Package sentiment classifies user messages into coarse sentiment labels.
//
// Classification is deliberately simple: case-insensitive membership tests
// against fixed word lists. It exists to drive empathetic reply prefixes,
// not to be a real NLP pipeline.
package sentiment

import "strings"

// Label is a coarse sentiment classification.
type Label string

const (
	Positive    Label = "positive"
	Negative    Label = "negative"
	Neutral     Label = "neutral"
	Questioning Label = "questioning"
)

var positiveWords = []string{
	"good", "great", "awesome", "amazing", "wonderful",
	"fantastic", "love", "like", "happy", "excited",
}

var negativeWords = []string{
	"bad", "terrible", "awful", "hate", "sad",
	"angry", "frustrated", "disappointed", "upset",
}

var questionWords = []string{
	"what", "how", "why", "when", "where", "who", "which",
}

// Classify maps free text to a sentiment label. It counts how many words
// from the positive and negative lists appear in the text and returns the
// dominant side. Ties never resolve to an emotional label: a tied message
// is "questioning" when it contains an interrogative word, otherwise
// "neutral".
func Classify(text string) Label {
	lower := strings.ToLower(text)

	var positive, negative int
	for _, w := range positiveWords {
		if strings.Contains(lower, w) {
			positive++
		}
	}
	for _, w := range negativeWords {
		if strings.Contains(lower, w) {
			negative++
		}
	}

	switch {
	case negative > positive:
		return Negative
	case positive > negative:
		return Positive
	}

	for _, w := range questionWords {
		if strings.Contains(lower, w) {
			return Questioning
		}
	}
	return Neutral
}

// Emotional reports whether a label warrants an empathetic reply prefix.
// Only the two charged labels qualify; neutral and questioning messages
// never receive one.
func (l Label) Emotional() bool {
	return l == Positive || l == Negative
}
