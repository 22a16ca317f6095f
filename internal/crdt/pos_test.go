package crdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionBetween_Bounds(t *testing.T) {
	tests := []struct {
		name  string
		lower Position
		upper Position
	}{
		{name: "empty bounds"},
		{
			name:  "between adjacent digits",
			lower: Position{{Digit: 5, Site: "a"}},
			upper: Position{{Digit: 6, Site: "b"}},
		},
		{
			name:  "same digit different sites",
			lower: Position{{Digit: 5, Site: "a"}},
			upper: Position{{Digit: 5, Site: "b"}},
		},
		{
			name:  "upper is descendant of lower",
			lower: Position{{Digit: 5, Site: "a"}},
			upper: Position{{Digit: 5, Site: "a"}, {Digit: 1, Site: "b"}},
		},
		{
			name:  "before smallest element",
			upper: Position{{Digit: 1, Site: "a"}},
		},
		{
			name:  "before generated zero-path element",
			upper: Position{{Digit: 0, Site: ""}, {Digit: 1, Site: "a"}},
		},
		{
			name:  "wide gap",
			lower: Position{{Digit: 10, Site: "a"}},
			upper: Position{{Digit: 1000, Site: "b"}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := positionBetween(tt.lower, tt.upper, "z")
			if len(tt.lower) > 0 {
				assert.Negative(t, tt.lower.Compare(got), "result must be above lower bound")
			} else {
				assert.NotEmpty(t, got)
			}
			if len(tt.upper) > 0 {
				assert.Negative(t, got.Compare(tt.upper), "result must be below upper bound")
			}
		})
	}
}

func TestPositionBetween_SequentialInserts(t *testing.T) {
	// Последовательные вставки в начало не должны вырождаться в ошибку
	// порядка: каждая новая позиция строго меньше предыдущей.
	var upper Position
	for i := 0; i < 100; i++ {
		p := positionBetween(nil, upper, "site")
		if len(upper) > 0 {
			require.Negative(t, p.Compare(upper))
		}
		upper = p
	}
}

func TestPositionCompare(t *testing.T) {
	a := Position{{Digit: 1, Site: "a"}}
	b := Position{{Digit: 1, Site: "b"}}
	c := Position{{Digit: 1, Site: "a"}, {Digit: 4, Site: "c"}}

	assert.Negative(t, a.Compare(b), "site breaks digit ties")
	assert.Positive(t, b.Compare(a))
	assert.Negative(t, a.Compare(c), "prefix is smaller than extension")
	assert.Zero(t, a.Compare(a))
}
