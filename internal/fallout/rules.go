package fallout

import (
	"fmt"
	"strings"

	"github.com/chrispt/Birding-Fallout-Predictor/internal/models"
)

// band awards points when a reading crosses limit.
type band struct {
	limit  float64
	points int
	label  string
}

// ladder is an ordered set of bands of which at most one matches. Bands run
// from most to least severe, so the first match is the strongest.
type ladder struct {
	below  bool   // match v < limit; otherwise v >= limit
	format string // receives label and reading; empty keeps the bare label
	bands  []band
}

func (l ladder) match(v float64) (points int, note string, ok bool) {
	for _, b := range l.bands {
		hit := v >= b.limit
		if l.below {
			hit = v < b.limit
		}
		if !hit {
			continue
		}
		if l.format == "" {
			return b.points, b.label, true
		}
		return b.points, fmt.Sprintf(l.format, b.label, v), true
	}
	return 0, "", false
}

// tally accumulates points and notes for one factor in evaluation order.
type tally struct {
	points int
	notes  []string
}

func (t *tally) add(points int, note string) {
	t.points += points
	t.notes = append(t.notes, note)
}

func (t *tally) climb(l ladder, v float64) {
	if points, note, ok := l.match(v); ok {
		t.add(points, note)
	}
}

// component caps the tally at limit. With no triggered rules the neutral
// text stands in for the notes.
func (t *tally) component(limit int, neutral string) models.ScoreComponent {
	score := t.points
	if score > limit {
		score = limit
	}
	if score < 0 {
		score = 0
	}
	desc := neutral
	if len(t.notes) > 0 {
		desc = strings.Join(t.notes, "; ")
	}
	return models.ScoreComponent{Score: score, Description: desc}
}
