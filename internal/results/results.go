// Package results computes per-attempt statistics against the finalized
// attempts of the same quiz.
package results

import (
	"sort"
)

// Entry is one finalized attempt's score.
type Entry struct {
	AttemptID string  `json:"attempt_id"`
	UserID    string  `json:"user_id"`
	Score     float64 `json:"score"`
}

type Band string

const (
	BandExcellent        Band = "excellent"
	BandGood             Band = "good"
	BandPass             Band = "pass"
	BandNeedsImprovement Band = "needs_improvement"
)

// Bands maps a minimum percentage to a label, highest first.
var Bands = []struct {
	Min  float64
	Band Band
}{
	{90, BandExcellent},
	{75, BandGood},
	{60, BandPass},
}

type Stats struct {
	Percentage    float64 `json:"percentage"`
	ClassAverage  float64 `json:"class_average"`
	Rank          int     `json:"rank"`
	TotalStudents int     `json:"total_students"`
	Band          Band    `json:"band"`
}

// Aggregate computes the statistics for a target score out of totalMarks.
// entries must hold finalized attempts only.
func Aggregate(score, totalMarks float64, entries []Entry) Stats {
	pct := Percentage(score, totalMarks)
	return Stats{
		Percentage:    pct,
		ClassAverage:  ClassAverage(entries),
		Rank:          Rank(score, entries),
		TotalStudents: DistinctStudents(entries),
		Band:          BandFor(pct),
	}
}

// Percentage is score/total*100, or 0 when there are no marks to earn.
func Percentage(score, total float64) float64 {
	if total <= 0 {
		return 0
	}
	return score / total * 100
}

func ClassAverage(entries []Entry) float64 {
	if len(entries) == 0 {
		return 0
	}
	sum := 0.0
	for _, e := range entries {
		sum += e.Score
	}
	return sum / float64(len(entries))
}

// Rank is the 1-based position of the first score equal to score in the
// descending order, so tied scores share a rank. 0 when score is absent.
func Rank(score float64, entries []Entry) int {
	sorted := make([]float64, len(entries))
	for i, e := range entries {
		sorted[i] = e.Score
	}
	sort.Sort(sort.Reverse(sort.Float64Slice(sorted)))
	for i, s := range sorted {
		if s == score {
			return i + 1
		}
	}
	return 0
}

func DistinctStudents(entries []Entry) int {
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		seen[e.UserID] = struct{}{}
	}
	return len(seen)
}

func BandFor(pct float64) Band {
	for _, b := range Bands {
		if pct >= b.Min {
			return b.Band
		}
	}
	return BandNeedsImprovement
}
