package reliability

import (
	"testing"
	"time"
)

func daysAgo(d int) *time.Time {
	t := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC).AddDate(0, 0, -d)
	return &t
}

func TestCompute_Empty(t *testing.T) {
	s := Compute(nil, 100, 5, time.Now())
	if s.Reliability != 0 || s.Confidence != 0 {
		t.Fatalf("expected zero score for no passages, got %+v", s)
	}
}

func TestCompute_HappyAsk(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	passages := []Passage{
		{DocumentID: "d1", Similarity: 0.91, PublicationDate: daysAgo(730)},
	}
	s := Compute(passages, 420, 5, now)

	if s.Reliability < 0.55 || s.Reliability > 0.75 {
		t.Fatalf("expected reliability in [0.55, 0.75], got %f", s.Reliability)
	}
}

func TestCompute_DiversityClampedAtOne(t *testing.T) {
	passages := []Passage{
		{DocumentID: "d1", Similarity: 0.9},
		{DocumentID: "d2", Similarity: 0.9},
		{DocumentID: "d3", Similarity: 0.9},
	}
	s := Compute(passages, 100, 2, time.Now())
	if s.Diversity != 1 {
		t.Fatalf("expected diversity clamped to 1, got %f", s.Diversity)
	}
}

func TestCompute_MissingDateContributesHalf(t *testing.T) {
	passages := []Passage{{DocumentID: "d1", Similarity: 0.8, PublicationDate: nil}}
	s := Compute(passages, 0, 1, time.Now())
	if s.Recency != missingDateRecency {
		t.Fatalf("expected recency %f for missing date, got %f", missingDateRecency, s.Recency)
	}
}

func TestCompute_OldDocumentRecencyFloorsAtZero(t *testing.T) {
	now := time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC)
	passages := []Passage{{DocumentID: "d1", Similarity: 0.8, PublicationDate: daysAgo(365 * 20)}}
	s := Compute(passages, 0, 1, now)
	if s.Recency != 0 {
		t.Fatalf("expected recency floored at 0, got %f", s.Recency)
	}
}

func TestCompute_CaveatBelowThreshold(t *testing.T) {
	passages := []Passage{{DocumentID: "d1", Similarity: 0.1}}
	s := Compute(passages, 0, 5, time.Now())
	if !s.Caveat {
		t.Fatalf("expected caveat for low reliability, got %+v", s)
	}
}

func TestCompute_InsufficientEvidence(t *testing.T) {
	passages := []Passage{{DocumentID: "d1", Similarity: 0.0}}
	s := Compute(passages, 0, 5, time.Now())
	if !s.InsufficientEvidence {
		t.Fatalf("expected insufficient evidence flag, got %+v", s)
	}
}

func TestCompute_LenFactorSaturatesAtFiveHundred(t *testing.T) {
	passages := []Passage{{DocumentID: "d1", Similarity: 0.8, PublicationDate: daysAgo(0)}}
	s := Compute(passages, 5000, 1, time.Now())
	if s.LenFactor != 1 {
		t.Fatalf("expected len factor saturated at 1, got %f", s.LenFactor)
	}
}
