package schema

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseObjectKind(t *testing.T) {
	tests := []struct {
		input    string
		expected ObjectKind
	}{
		{"table", KindTable},
		{"EVENT_TRIGGER", KindEventTrigger},
		{"event trigger", KindEventTrigger},
		{" Foreign_Data_Wrapper ", KindForeignDataWrapper},
		{"USER MAPPING", KindUserMapping},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			kind, err := ParseObjectKind(tt.input)
			assert.NoError(t, err)
			assert.Equal(t, tt.expected, kind)
		})
	}

	_, err := ParseObjectKind("MATERIALIZED")
	assert.ErrorContains(t, err, "unknown object kind")
}

func TestKindTextRoundTrip(t *testing.T) {
	for _, k := range AllKinds() {
		text, err := k.MarshalText()
		assert.NoError(t, err)
		var parsed ObjectKind
		assert.NoError(t, parsed.UnmarshalText(text))
		assert.Equal(t, k, parsed)
	}
}

func TestKindCapabilities(t *testing.T) {
	assert.True(t, KindTable.CanContain(KindColumn))
	assert.True(t, KindView.CanContain(KindIndex))
	assert.False(t, KindView.CanContain(KindColumn))
	assert.True(t, KindDatabase.CanContain(KindRole))
	assert.False(t, KindDatabase.CanContain(KindTable))

	assert.True(t, KindColumn.InlineInParent())
	assert.False(t, KindIndex.InlineInParent())

	assert.True(t, KindTable.Stateful())
	assert.False(t, KindView.Stateful())
	assert.Less(t, KindView.StateRank(), KindFunction.StateRank())
	assert.Less(t, KindFunction.StateRank(), KindTable.StateRank())
	assert.Equal(t, KindFunction.StateRank(), KindProcedure.StateRank())
}

func TestKindSet(t *testing.T) {
	var empty KindSet
	assert.True(t, empty.Allows(KindView))

	set := NewKindSet(KindView, KindTable)
	assert.True(t, set.Allows(KindView))
	assert.False(t, set.Allows(KindIndex))
	assert.Equal(t, []ObjectKind{KindTable, KindView}, set.Sorted())
}
