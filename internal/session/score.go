package session

import "github.com/hosodaythemhocthem-blip/huynhvannhan-sub000/internal/model"

// Score sums the points of every objective question whose answer matches
// its correct answer exactly: string equality, case-sensitive, no partial
// credit. Essay questions always contribute 0 here; they are scored by the
// teacher after submission. The result depends only on the question set
// and the answer map, not on question order.
func Score(questions []model.Question, answers model.AnswerMap) int {
	total := 0
	for _, q := range questions {
		if !q.AutoScorable() {
			continue
		}
		answer, ok := answers[q.ID]
		if !ok {
			continue
		}
		if answer == q.CorrectAnswer {
			points := q.Points
			if points <= 0 {
				points = 1
			}
			total += points
		}
	}
	return total
}

// MaxScore is the highest score the objective questions can yield.
func MaxScore(questions []model.Question) int {
	total := 0
	for _, q := range questions {
		if !q.AutoScorable() {
			continue
		}
		points := q.Points
		if points <= 0 {
			points = 1
		}
		total += points
	}
	return total
}
