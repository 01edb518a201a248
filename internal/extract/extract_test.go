package extract

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type decision struct {
	Execute bool   `json:"execute"`
	Reason  string `json:"reason"`
}

func TestTextExtractor(t *testing.T) {
	tests := []struct {
		name    string
		output  string
		want    decision
		wantErr bool
	}{
		{
			name:   "plain json",
			output: `{"execute": true, "reason": "needed"}`,
			want:   decision{Execute: true, Reason: "needed"},
		},
		{
			name:   "code block",
			output: "Sure, here it is:\n```json\n{\"execute\": false, \"reason\": \"dup\"}\n```\nThanks",
			want:   decision{Execute: false, Reason: "dup"},
		},
		{
			name:   "embedded in prose",
			output: `I think {"execute": true, "reason": "has {braces} inside"} is right.`,
			want:   decision{Execute: true, Reason: "has {braces} inside"},
		},
		{
			name:   "skips broken span",
			output: `{not json} then {"execute": true, "reason": "second"}`,
			want:   decision{Execute: true, Reason: "second"},
		},
		{
			name:    "no json",
			output:  "I cannot decide.",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got decision
			err := TextExtractor{}.Extract(tt.output, &got)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrNoJSON)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestOrDefault(t *testing.T) {
	fallback := decision{Execute: true, Reason: "fallback"}

	got, ok := OrDefault(TextExtractor{}, "garbage", fallback)
	assert.False(t, ok)
	assert.Equal(t, fallback, got)

	got, ok = OrDefault(nil, `{"execute": false}`, fallback)
	assert.True(t, ok)
	assert.False(t, got.Execute)
}

func TestStrict(t *testing.T) {
	ex := Strict(TextExtractor{}, "tasks")

	var plan struct {
		Tasks []struct {
			ID string `json:"id"`
		} `json:"tasks"`
	}
	err := ex.Extract(`{"note": "x"} and {"tasks": [{"id": "t1"}]}`, &plan)
	require.NoError(t, err)
	require.Len(t, plan.Tasks, 1)
	assert.Equal(t, "t1", plan.Tasks[0].ID)

	err = ex.Extract(`{"note": "x"}`, &plan)
	assert.ErrorIs(t, err, ErrNoJSON)
}

func TestCandidatesOrder(t *testing.T) {
	c := Candidates("```\n{\"a\":1}\n```")
	require.NotEmpty(t, c)
	assert.Equal(t, `{"a":1}`, c[0])
}
