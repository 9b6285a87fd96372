package timeline

import (
	"fmt"
	"regexp"
	"testing"

	"github.com/dij0s/eXPOSE/internal/store"
	"github.com/dij0s/eXPOSE/internal/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func msg(id, from string, ts float64) types.ChatMessage {
	return types.ChatMessage{ID: id, From: from, To: "x@bus", Body: "hi", Timestamp: ts}
}

func TestCanonicalConversation(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"a@bus/res1-b@bus", "a@bus,b@bus"},
		{"a@bus-b@bus", "a@bus,b@bus"},
		{"robot1@prosody/3fa9c1-robot2@prosody", "robot1@prosody,robot2@prosody"},
		{"a@bus-robot-2@bus", "a@bus,robot-2@bus"},
		{"a@bus-x-2@bus", "a@bus,x-2@bus"},
		{"a@bus/r1-robot-2@bus", "a@bus,robot-2@bus"},
		{"courier_agent@prosody/3fa9c1-mapping-unit@prosody", "courier_agent@prosody,mapping-unit@prosody"},
		{"a@bus/resource1-b@bus", "a@bus/resource1-b@bus"},
		{"plain-conversation", "plain-conversation"},
		{"", ""},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, CanonicalConversation(tt.in))
		})
	}
}

func TestHue(t *testing.T) {
	assert.Equal(t, 225, Hue("ab"))
	assert.Equal(t, 322, Hue("hello"))
	// The raw hash is negative here; the hue is normalized into [0, 360)
	assert.Equal(t, 247, Hue("a@bus,b@bus"))
	assert.Equal(t, 247, Hue("a@bus/res1-b@bus"))
	assert.Equal(t, 0, Hue(""))
}

func TestColorIsStableAndInRange(t *testing.T) {
	format := regexp.MustCompile(`^hsl\((\d+), 70%, 70%\)$`)

	for i := 0; i < 500; i++ {
		id := fmt.Sprintf("robot%d@prosody/res%d-robot%d@prosody", i, i%7, i+1)
		c := Color(id)
		require.Regexp(t, format, c)
		assert.Equal(t, c, Color(id), "color must be a pure function of the id")

		h := Hue(id)
		assert.GreaterOrEqual(t, h, 0)
		assert.Less(t, h, 360)
	}

	// resource suffix does not change the color
	assert.Equal(t, Color("a@bus/res1-b@bus"), Color("a@bus/other-b@bus"))
	assert.Equal(t, "hsl(247, 70%, 70%)", Color("a@bus/res1-b@bus"))
}

func TestIsImage(t *testing.T) {
	tests := []struct {
		body string
		want bool
	}{
		{"aGVsbG8=", true},
		{"hello world", false},
		{"", false},
		{"aGVsbG8", false}, // missing padding does not round-trip
		{"!!!!", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, IsImage(tt.body), "body %q", tt.body)
	}
}

func TestSelection(t *testing.T) {
	var s Selection
	_, ok := s.Selected()
	assert.False(t, ok)

	s.Click("a")
	id, ok := s.Selected()
	assert.True(t, ok)
	assert.Equal(t, "a", id)

	s.Click("b")
	id, _ = s.Selected()
	assert.Equal(t, "b", id)

	s.Click("b")
	_, ok = s.Selected()
	assert.False(t, ok)

	s.Click("a")
	s.ClickOutside()
	_, ok = s.Selected()
	assert.False(t, ok)
}

func TestAgentsFirstAppearance(t *testing.T) {
	msgs := []types.ChatMessage{
		msg("1", "zed@bus", 3),
		msg("2", "amy@bus", 1),
		msg("3", "zed@bus", 2),
		msg("4", "", 4),
		msg("5", "bob@bus", 0),
	}
	assert.Equal(t, []string{"zed@bus", "amy@bus", "bob@bus"}, Agents(msgs))
}

func TestBuildPositionsAndGaps(t *testing.T) {
	msgs := []types.ChatMessage{
		msg("m3", "a@bus", 30),
		msg("m1", "a@bus", 10),
		msg("m2", "b@bus", 20),
		msg("m4", "b@bus", 20), // tie with m2, arrives later
	}

	v := Build(msgs, 0)

	ids := make([]string, len(v.Sorted))
	for i, e := range v.Sorted {
		ids[i] = e.ID
		assert.Equal(t, i*SlotWidth, e.Position)
	}
	assert.Equal(t, []string{"m1", "m2", "m4", "m3"}, ids)

	require.Len(t, v.Rows, 2)
	assert.Equal(t, "a@bus", v.Rows[0].Agent)
	require.Len(t, v.Rows[0].Entries, 2)
	assert.Equal(t, 0, v.Rows[0].Entries[0].Position)
	assert.Equal(t, 960, v.Rows[0].Entries[1].Position, "gap preserved for b's messages")

	assert.Equal(t, []int{320, 640}, []int{v.Rows[1].Entries[0].Position, v.Rows[1].Entries[1].Position})

	// last position 960 + slot + slot
	assert.Equal(t, 1600, v.Width)
	assert.Equal(t, 2000, Build(msgs, 2000).Width)
}

func TestBuildRowsFilterOnSenderOnly(t *testing.T) {
	msgs := []types.ChatMessage{
		{ID: "1", From: "a@bus", To: "b@bus", Timestamp: 1},
		{ID: "2", From: "b@bus", To: "a@bus", Timestamp: 2},
	}
	v := Build(msgs, 0)
	require.Len(t, v.Rows, 2)
	require.Len(t, v.Rows[0].Entries, 1)
	assert.Equal(t, "1", v.Rows[0].Entries[0].ID)
}

func TestBuildEmpty(t *testing.T) {
	v := Build(nil, 1000)
	assert.Empty(t, v.Sorted)
	assert.Empty(t, v.Rows)
	assert.NotNil(t, v.Agents)
	assert.Equal(t, 1000, v.Width)
	assert.Equal(t, SlotWidth, Build(nil, 0).Width)
}

func TestBuildClockLabel(t *testing.T) {
	v := Build([]types.ChatMessage{msg("1", "a@bus", 3661.5)}, 0)
	assert.Equal(t, "01:01:01", v.Sorted[0].Clock)
}

func TestReconstructorFollowsStore(t *testing.T) {
	s := store.New(nil)
	r := NewReconstructor(s, 0, zerolog.Nop())
	defer r.Close()

	assert.Empty(t, r.View().Sorted)

	s.AppendMessage(types.ChatMessage{ID: "img", From: "a@bus", Body: "aGVsbG8=", Timestamp: 2})
	s.AppendMessage(types.ChatMessage{ID: "txt", From: "b@bus", Body: "hello world", Timestamp: 1})

	v := r.View()
	require.Len(t, v.Sorted, 2)
	assert.Equal(t, "txt", v.Sorted[0].ID)
	assert.True(t, v.Sorted[1].IsImage)
	assert.Equal(t, []string{"a@bus", "b@bus"}, v.Agents)

	assert.ErrorIs(t, r.Select("txt"), ErrNotAttachment)
	assert.ErrorIs(t, r.Select("missing"), ErrNotAttachment)

	require.NoError(t, r.Select("img"))
	assert.Equal(t, "img", r.View().Selected)
	require.NoError(t, r.Select("img"))
	assert.Empty(t, r.View().Selected)

	require.NoError(t, r.Select("img"))
	r.ClickOutside()
	assert.Empty(t, r.View().Selected)

	r.Close()
	s.AppendMessage(msg("late", "c@bus", 5))
	assert.Len(t, r.View().Sorted, 2, "closed reconstructor stops following")
}
