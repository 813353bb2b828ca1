package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcceptanceCriterionDecodesBothShapes(t *testing.T) {
	var got []AcceptanceCriterion
	require.NoError(t, json.Unmarshal([]byte(`["fast",{"criterion":"safe","met":true}]`), &got))
	assert.Equal(t, []AcceptanceCriterion{
		{Criterion: "fast"},
		{Criterion: "safe", Met: true},
	}, got)

	var bad AcceptanceCriterion
	assert.Error(t, json.Unmarshal([]byte(`42`), &bad))
}

func TestTimeLayoutOrdersAsString(t *testing.T) {
	a, err := ParseTime("2024-01-01T09:00:00.000000001Z")
	require.NoError(t, err)
	b, err := ParseTime("2024-01-01T09:00:00.000000010Z")
	require.NoError(t, err)
	assert.True(t, a.Before(b))
	assert.Less(t, FormatTime(a), FormatTime(b))
}
