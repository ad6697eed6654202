package match

import (
	"fmt"
	"math"

	"github.com/adam-mcguinness/sup-linux/internal/embedding"
)

// Quality adjustment bounds. Enrollments weaker than the pivot raise the
// bar; stronger ones relax it a little, never by more than the clamp.
const (
	qualityPivot  = 0.70
	minAdjustment = -0.05
	maxAdjustment = 0.15
)

// Ideal pairwise geometry for enrollments of one person: similar but not
// identical captures.
const (
	idealPairwiseSimilarity = 0.82
	idealPairwiseVariance   = 0.005
)

// Comparison is one individual similarity measurement within an attempt.
type Comparison struct {
	Target string  `json:"target"`
	Score  float64 `json:"score"`
}

// Score is an attempt's full similarity breakdown. Best is the maximum of
// all comparisons (optimistic matching); the breakdown feeds the audit
// trail so no comparison disappears behind the max.
type Score struct {
	Best        float64
	Comparisons []Comparison
}

// ScoreSample compares sample against every enrolled template, the profile
// average and the rolling-buffer mean as it stood before this sample was
// pushed. A nil average or bufferMean is skipped.
func ScoreSample(sample embedding.Vector, templates []embedding.Vector, average, bufferMean embedding.Vector) Score {
	var s Score
	for i, tpl := range templates {
		s.Comparisons = append(s.Comparisons, Comparison{
			Target: fmt.Sprintf("template[%d]", i),
			Score:  embedding.CosineSimilarity(sample, tpl),
		})
	}
	if len(average) > 0 {
		s.Comparisons = append(s.Comparisons, Comparison{
			Target: "average",
			Score:  embedding.CosineSimilarity(sample, average),
		})
	}
	if len(bufferMean) > 0 {
		s.Comparisons = append(s.Comparisons, Comparison{
			Target: "buffer_mean",
			Score:  embedding.CosineSimilarity(sample, bufferMean),
		})
	}

	if len(s.Comparisons) == 0 {
		return s
	}
	s.Best = math.Inf(-1)
	for _, c := range s.Comparisons {
		if c.Score > s.Best {
			s.Best = c.Score
		}
	}
	return s
}

// EffectiveThreshold adjusts the base threshold by the profile's mean
// enrollment quality. The adjustment is clamped to
// [minAdjustment, maxAdjustment] and the result stays inside (0, 1).
func EffectiveThreshold(base, weight float64, qualities []float32) float64 {
	if len(qualities) == 0 {
		return clamp(base, 0.01, 0.99)
	}

	var sum float64
	for _, q := range qualities {
		sum += float64(q)
	}
	meanQuality := sum / float64(len(qualities))

	adjustment := clamp(weight*(qualityPivot-meanQuality), minAdjustment, maxAdjustment)
	return clamp(base+adjustment, 0.01, 0.99)
}

// EnrollmentConsistency scores how well a set of enrollment embeddings
// hangs together, in [0, 1]. Identical captures score as poorly as
// unrelated ones: the ideal is same-person similarity with controlled
// variation.
func EnrollmentConsistency(vectors []embedding.Vector) float64 {
	if len(vectors) < 2 {
		return 0.8
	}

	var sims []float64
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sims = append(sims, embedding.CosineSimilarity(vectors[i], vectors[j]))
		}
	}

	var sum float64
	for _, s := range sims {
		sum += s
	}
	avg := sum / float64(len(sims))

	var variance float64
	for _, s := range sims {
		variance += (s - avg) * (s - avg)
	}
	variance /= float64(len(sims))

	similarityScore := 1.0 - math.Abs(avg-idealPairwiseSimilarity)*2.0
	varianceScore := 1.0 - math.Abs(variance-idealPairwiseVariance)*10.0
	if variance < 0.001 || variance > 0.02 {
		varianceScore = 0.7
	}

	return clamp(similarityScore*0.7+varianceScore*0.3, 0, 1)
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
