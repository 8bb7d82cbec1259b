package scheduler

import (
	"math"
	"sort"
	"strings"

	"github.com/taskhive/taskhive/internal/config"
)

// Score bounds. Penalties can push the weighted sum below zero; the final
// score is always clamped into [ScoreFloor, ScoreCeil].
const (
	ScoreFloor = -0.2
	ScoreCeil  = 1.0
)

// Factor penalties returned instead of raw ratios when a factor signals an
// outright mismatch.
const (
	capabilityPenalty     = -0.2 // No required capability covered at all
	specializationPenalty = -0.1 // Token overlap below specializationCutoff
	typePenalty           = -0.2 // Worker type incompatible with task type
	specializationCutoff  = 0.1
	neutralFactor         = 0.5 // Used when a factor cannot be judged
	occupiedWorkload      = 0.3
)

// capabilitySynonyms bridges equivalent capability tokens. Matching checks
// both directions, so entries do not need to be mirrored.
var capabilitySynonyms = map[string][]string{
	"react":         {"frontend", "javascript", "typescript"},
	"vue":           {"frontend", "javascript"},
	"angular":       {"frontend", "typescript"},
	"frontend":      {"react", "vue", "angular", "ui", "css", "html"},
	"css":           {"frontend", "styling"},
	"html":          {"frontend"},
	"javascript":    {"frontend", "node"},
	"typescript":    {"javascript", "frontend"},
	"node":          {"backend", "javascript"},
	"go":            {"backend"},
	"python":        {"backend"},
	"api":           {"backend", "rest"},
	"rest":          {"api", "backend"},
	"server":        {"backend"},
	"sql":           {"database", "backend"},
	"database":      {"sql", "backend", "postgres", "sqlite"},
	"postgres":      {"database", "sql"},
	"sqlite":        {"database", "sql"},
	"migrations":    {"database", "sql"},
	"docker":        {"devops", "containers"},
	"kubernetes":    {"devops", "containers"},
	"ci":            {"devops", "automation"},
	"testing":       {"qa", "tests"},
	"qa":            {"testing", "tests"},
	"docs":          {"documentation", "writing"},
	"documentation": {"docs", "writing"},
}

// typeCompatibility maps a worker type to the task types it suits.
// An identical worker/task type always matches, even without an entry.
var typeCompatibility = map[string][]string{
	"frontend":  {"frontend"},
	"backend":   {"backend"},
	"fullstack": {"frontend", "backend"},
	"devops":    {"devops"},
	"testing":   {"testing"},
	"general":   {"frontend", "backend", "devops", "testing", "docs"},
}

// typeKeywords drives task type inference from description and tags.
// Order matters: on a hit-count tie the earlier entry wins.
var typeKeywords = []struct {
	taskType string
	words    []string
}{
	{"frontend", []string{"ui", "component", "components", "css", "style", "styling", "react", "page", "frontend", "layout"}},
	{"backend", []string{"api", "endpoint", "endpoints", "server", "database", "migration", "migrations", "backend", "query"}},
	{"devops", []string{"deploy", "deployment", "docker", "pipeline", "ci", "infrastructure", "kubernetes"}},
	{"testing", []string{"test", "tests", "coverage", "regression", "e2e", "qa"}},
	{"docs", []string{"document", "documentation", "readme", "guide", "docs"}},
}

// ScoredWorker pairs a worker with its computed match score.
type ScoredWorker struct {
	Worker *Worker
	Score  float64
}

// Scorer computes a bounded compatibility score between a worker and a
// task from five weighted factors. Weights are sanitized at construction;
// a nonsensical set falls back to the defaults.
type Scorer struct {
	weights  config.ScoringWeights
	minScore float64
}

// NewScorer creates a scorer. minScore below or equal to zero disables the
// assignment threshold.
func NewScorer(weights config.ScoringWeights, minScore float64) *Scorer {
	return &Scorer{
		weights:  weights.Sanitized(),
		minScore: minScore,
	}
}

// Score computes the worker/task compatibility in [ScoreFloor, ScoreCeil].
//
// The weighted sum is normalized by the best total this worker could
// attain, so a perfectly matching idle worker scores exactly ScoreCeil
// even while its performance factor sits at the neutral prior.
func (s *Scorer) Score(worker *Worker, task *Task) float64 {
	capability := finite(s.capabilityMatch(worker, task))
	specialization := finite(s.specializationMatch(worker, task))
	typeAlign := finite(s.typeMatch(worker, task))
	workload := finite(s.workloadFactor(worker))
	performance := finite(s.performanceFactor(worker))

	w := s.weights
	sum := w.Capability*capability +
		w.Specialization*specialization +
		w.Type*typeAlign +
		w.Workload*workload +
		w.Performance*performance

	perfCeil := 1.0
	if worker.TasksCompleted == 0 {
		perfCeil = neutralFactor
	}
	attainable := w.Capability + w.Specialization + w.Type + w.Workload + w.Performance*perfCeil

	score := finite(sum / attainable)
	return clamp(score, ScoreFloor, ScoreCeil)
}

// FindBestWorker filters to idle workers, ranks them and returns the top
// one. The returned score is the best one seen, also when the winner is
// rejected by the minimum-score threshold and nil is returned.
func (s *Scorer) FindBestWorker(workers []*Worker, task *Task) (*Worker, float64) {
	var idle []*Worker
	for _, w := range workers {
		if w.Status == WorkerIdle {
			idle = append(idle, w)
		}
	}
	if len(idle) == 0 {
		return nil, 0
	}

	ranked := s.RankWorkers(idle, task)
	best := ranked[0]
	if s.minScore > 0 && best.Score < s.minScore {
		return nil, best.Score
	}
	return best.Worker, best.Score
}

// RankWorkers scores every given worker and returns them ordered best
// first. Exposed for diagnostics; no idle filtering is applied here.
func (s *Scorer) RankWorkers(workers []*Worker, task *Task) []ScoredWorker {
	ranked := make([]ScoredWorker, 0, len(workers))
	for _, w := range workers {
		ranked = append(ranked, ScoredWorker{Worker: w, Score: s.Score(w, task)})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Score > ranked[j].Score
	})
	return ranked
}

// capabilityMatch returns the fraction of required capabilities covered by
// the worker, expanded through the synonym table. An empty requirement set
// is a vacuous perfect match; zero coverage is an explicit penalty.
func (s *Scorer) capabilityMatch(worker *Worker, task *Task) float64 {
	required := task.RequiredCapabilities
	if len(required) == 0 {
		return 1.0
	}

	caps := make([]string, 0, len(worker.Capabilities()))
	for _, c := range worker.Capabilities() {
		caps = append(caps, strings.ToLower(strings.TrimSpace(c)))
	}

	matched := 0
	for _, req := range required {
		req = strings.ToLower(strings.TrimSpace(req))
		for _, c := range caps {
			if capabilityEquivalent(c, req) {
				matched++
				break
			}
		}
	}

	if matched == 0 {
		return capabilityPenalty
	}
	return float64(matched) / float64(len(required))
}

// capabilityEquivalent reports whether two capability tokens match
// directly or through the synonym table in either direction.
func capabilityEquivalent(a, b string) bool {
	if a == b {
		return true
	}
	if containsString(capabilitySynonyms[a], b) {
		return true
	}
	return containsString(capabilitySynonyms[b], a)
}

// specializationMatch returns the share of the worker's specialization
// tokens found in the task's description and tags. Overlap below the
// cutoff collapses to a small penalty so near-zero ratios do not pass as
// weak positives.
func (s *Scorer) specializationMatch(worker *Worker, task *Task) float64 {
	specTokens := tokenize(worker.Specialization())
	if len(specTokens) == 0 {
		return specializationPenalty
	}

	taskTokens := make(map[string]bool)
	for _, t := range tokenize(task.Description) {
		taskTokens[t] = true
	}
	for _, tag := range task.Tags {
		for _, t := range tokenize(tag) {
			taskTokens[t] = true
		}
	}

	overlap := 0
	for _, t := range specTokens {
		if taskTokens[t] {
			overlap++
		}
	}

	ratio := float64(overlap) / float64(len(specTokens))
	if ratio < specializationCutoff {
		return specializationPenalty
	}
	return ratio
}

// typeMatch checks the worker's type against the task type inferred from
// keyword sniffing. Either side being unknown yields a neutral value; a
// known-incompatible pairing yields a penalty.
func (s *Scorer) typeMatch(worker *Worker, task *Task) float64 {
	taskType := InferTaskType(task)
	if taskType == "" {
		return neutralFactor
	}

	workerType := strings.ToLower(strings.TrimSpace(worker.Type()))
	if workerType == "" {
		return neutralFactor
	}
	if workerType == taskType {
		return 1.0
	}

	if containsString(typeCompatibility[workerType], taskType) {
		return 1.0
	}
	return typePenalty
}

// workloadFactor prefers unoccupied workers with a flat, not proportional,
// discount for occupied ones.
func (s *Scorer) workloadFactor(worker *Worker) float64 {
	if worker.CurrentTask == "" {
		return 1.0
	}
	return occupiedWorkload
}

// performanceFactor grows with completed-task history and saturates at ten
// tasks. A worker with no history gets a neutral prior instead of zero.
func (s *Scorer) performanceFactor(worker *Worker) float64 {
	if worker.TasksCompleted == 0 {
		return neutralFactor
	}
	return math.Min(1.0, float64(worker.TasksCompleted)/10.0)
}

// InferTaskType sniffs the task type from description and tag keywords.
// Returns the empty string when nothing matches.
func InferTaskType(task *Task) string {
	tokens := make(map[string]bool)
	for _, t := range tokenize(task.Description) {
		tokens[t] = true
	}
	for _, tag := range task.Tags {
		for _, t := range tokenize(tag) {
			tokens[t] = true
		}
	}

	bestType := ""
	bestHits := 0
	for _, entry := range typeKeywords {
		hits := 0
		for _, word := range entry.words {
			if tokens[word] {
				hits++
			}
		}
		if hits > bestHits {
			bestType = entry.taskType
			bestHits = hits
		}
	}
	return bestType
}

// tokenize lowercases and splits text on non-alphanumeric runes, dropping
// single-character fragments.
func tokenize(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})

	tokens := fields[:0]
	for _, f := range fields {
		if len(f) > 1 {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

// finite maps NaN and infinities to zero so a single bad factor cannot
// poison the combined score.
func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
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
