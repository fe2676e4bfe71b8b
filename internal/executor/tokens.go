package executor

import "unicode"

// TokenEstimator approximates how many model tokens a text costs.
type TokenEstimator interface {
	Estimate(text string) int
}

// CharEstimator counts CJK runes at 1.5 per token and everything else at 4
// per token.
type CharEstimator struct{}

func (CharEstimator) Estimate(text string) int {
	var cjk, other int
	for _, r := range text {
		if isCJK(r) {
			cjk++
		} else {
			other++
		}
	}
	// ceil(cjk/1.5) + ceil(other/4)
	return (cjk*2+2)/3 + (other+3)/4
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}
