// Package reliability scores a composed answer (C7): pure arithmetic over
// the passages that fed the Composer and the answer it produced. No
// adapter calls, no suspension points.
package reliability

import (
	"time"

	"github.com/mevzuatgpt/mevzuatgpt-server/pkg/fn"
)

// Passage is the subset of a retrieved passage the scorer needs.
type Passage struct {
	DocumentID      string
	Similarity      float64
	PublicationDate *time.Time
}

// lenFactorDenominator is the answer length (runes) past which len_factor
// saturates at 1.
const lenFactorDenominator = 500

// recencyHorizonYears is the age past which a passage's recency
// contribution bottoms out at 0.
const recencyHorizonYears = 10

// missingDateRecency is the contribution of a passage with no known
// publication date: neither penalized nor rewarded.
const missingDateRecency = 0.5

// Score is the scorer's output: the two headline numbers plus the
// intermediate terms, for diagnostics.
type Score struct {
	Reliability float64
	Confidence  float64
	SAvg        float64
	Diversity   float64
	LenFactor   float64
	Recency     float64

	// Caveat is set when Reliability falls below caveatThreshold. It is a
	// flag on the score only: no caller reads it, and no caveat line is
	// added to the answer text.
	Caveat bool
	// InsufficientEvidence is set when Reliability falls below
	// insufficientThreshold. It is a flag on the score only: no caller reads
	// it, and citations are returned the same way whether or not it is set.
	InsufficientEvidence bool
}

const (
	caveatThreshold      = 0.40
	insufficientThreshold = 0.20
)

// Compute scores an answer from the passages that backed it and the
// answer's own length, as of now (injected so tests are deterministic).
func Compute(passages []Passage, answerLength int, k int, now time.Time) Score {
	if len(passages) == 0 {
		return Score{}
	}

	sAvg := fn.Reduce(passages, 0.0, func(acc float64, p Passage) float64 {
		return acc + p.Similarity
	}) / float64(len(passages))

	uniqueDocs := fn.UniqueBy(passages, func(p Passage) string { return p.DocumentID })
	divisor := k
	if divisor < 1 {
		divisor = 1
	}
	diversity := float64(len(uniqueDocs)) / float64(divisor)
	if diversity > 1 {
		diversity = 1
	}

	lenFactor := float64(answerLength) / lenFactorDenominator
	if lenFactor > 1 {
		lenFactor = 1
	}

	recencyTerms := fn.Map(passages, func(p Passage) float64 {
		if p.PublicationDate == nil {
			return missingDateRecency
		}
		years := now.Sub(*p.PublicationDate).Hours() / (24 * 365.25)
		r := 1 - years/recencyHorizonYears
		if r < 0 {
			r = 0
		}
		return r
	})
	recency := fn.Reduce(recencyTerms, 0.0, func(acc, r float64) float64 { return acc + r }) / float64(len(recencyTerms))

	reliability := clamp01(0.40*sAvg + 0.20*diversity + 0.15*lenFactor + 0.25*recency)
	confidence := clamp01(0.60*sAvg + 0.40*diversity)

	return Score{
		Reliability:          reliability,
		Confidence:           confidence,
		SAvg:                 sAvg,
		Diversity:            diversity,
		LenFactor:            lenFactor,
		Recency:              recency,
		Caveat:               reliability < caveatThreshold,
		InsufficientEvidence: reliability < insufficientThreshold,
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
