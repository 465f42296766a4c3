package recognizer

import (
	"fmt"
	"math"
	"strings"
)

// Decoded is the greedy reading of one output sequence.
type Decoded struct {
	Text        string    // tokens before the first EOS
	RawText     string    // tokens of the first len(Text)+1 steps, EOS rendered as [E]
	Confidences []float64 // winning probability of the same steps
}

// DecodeGreedy reads a [1, T, C] logits output: at each step the most likely
// class after softmax wins, and reading stops at the first EOS. Raw text and
// confidences cover the text steps plus the step that ended it, so a
// complete read always carries one extra confidence for EOS. Models may emit
// more classes than the charset holds (padding, BOS); a step decoding to one
// of them is an error.
func DecodeGreedy(logits []float32, shape []int64, cs *Charset) (Decoded, error) {
	if err := cs.validate(); err != nil {
		return Decoded{}, err
	}
	if len(shape) != 3 || shape[0] != 1 {
		return Decoded{}, fmt.Errorf("unexpected recognizer output shape %v, want [1, T, C]", shape)
	}
	steps, classes := int(shape[1]), int(shape[2])
	if classes < cs.Classes() {
		return Decoded{}, fmt.Errorf("recognizer output has %d classes, charset needs at least %d", classes, cs.Classes())
	}
	if len(logits) != steps*classes {
		return Decoded{}, fmt.Errorf("recognizer output has %d values, shape %v needs %d", len(logits), shape, steps*classes)
	}

	var text, raw strings.Builder
	confs := make([]float64, 0, steps)
	ended := false
	for t := 0; t < steps; t++ {
		class, prob := softmaxArgmax(logits[t*classes : (t+1)*classes])
		if !ended {
			confs = append(confs, prob)
			if class == 0 {
				raw.WriteString(eosToken)
				ended = true
				continue
			}
			tok, ok := cs.Token(class)
			if !ok {
				return Decoded{}, fmt.Errorf("step %d decoded to class %d, outside the %d-token charset", t, class, len(cs.Tokens))
			}
			text.WriteString(tok)
			raw.WriteString(tok)
		}
	}
	return Decoded{Text: text.String(), RawText: raw.String(), Confidences: confs}, nil
}

// softmaxArgmax returns the winning class and its softmax probability.
func softmaxArgmax(v []float32) (int, float64) {
	best := 0
	for i := 1; i < len(v); i++ {
		if v[i] > v[best] {
			best = i
		}
	}
	maxv := float64(v[best])
	var sum float64
	for _, x := range v {
		sum += math.Exp(float64(x) - maxv)
	}
	if sum == 0 {
		return best, 0
	}
	return best, 1 / sum
}
