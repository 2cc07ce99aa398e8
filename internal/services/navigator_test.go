package services

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
	"github.com/Corphon/QuestWeaver/internal/models"
)

func relicQuest() *models.Quest {
	return &models.Quest{
		ID:    "q1",
		Title: "Lost Relic",
		Scenes: []models.Scene{
			{
				ID:         "s1",
				Title:      "Start",
				LocationID: "tavern",
				Characters: []string{"bob", "ann"},
				Items:      []string{"map"},
				Choices: []models.Choice{
					{ID: "c1", Text: "Go north", NextSceneID: "s2"},
					{ID: "c2", Text: "Wait"},
					{ID: "c3", Text: "Sneak out", NextSceneID: "nowhere"},
				},
			},
			{ID: "s2", Title: "Cave", IsEnding: true, Choices: []models.Choice{}},
		},
		Characters: []models.Character{{ID: "ann", Name: "Ann"}, {ID: "bob", Name: "Bob"}, {ID: "eve", Name: "Eve"}},
		Locations:  []models.Location{{ID: "tavern", Name: "Tavern"}},
		Items:      []models.Item{{ID: "key", Name: "Key"}, {ID: "map", Name: "Map"}},
	}
}

func TestNavigatorSelectUnknownSceneKeepsState(t *testing.T) {
	q := relicQuest()
	var nav Navigator
	require.NoError(t, nav.SelectScene(q, "s1"))

	err := nav.SelectScene(q, "ghost")
	require.Error(t, err)
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, "s1", nav.CurrentSceneID())
	assert.False(t, nav.Ended())
}

func TestNavigatorChooseMovesToTarget(t *testing.T) {
	q := relicQuest()
	var nav Navigator
	require.NoError(t, nav.SelectScene(q, "s1"))

	scene, err := nav.Choose(q, "s1", "c1")
	require.NoError(t, err)
	assert.Equal(t, "s2", scene.ID)
	assert.Equal(t, "s2", nav.CurrentSceneID())
	assert.True(t, nav.Ended(), "ending scene ends the quest")
}

func TestNavigatorDeadEndLeavesCurrentScene(t *testing.T) {
	for _, choiceID := range []string{"c2", "c3"} {
		t.Run(choiceID, func(t *testing.T) {
			q := relicQuest()
			var nav Navigator
			require.NoError(t, nav.SelectScene(q, "s1"))

			_, err := nav.Choose(q, "s1", choiceID)
			require.Error(t, err)
			assert.True(t, apperrors.IsDeadEnd(err))
			assert.Equal(t, "s1", nav.CurrentSceneID())
			assert.True(t, nav.Ended())
		})
	}
}

func TestNavigatorChooseIsIdempotent(t *testing.T) {
	for _, choiceID := range []string{"c1", "c2", "c3", "missing"} {
		t.Run(choiceID, func(t *testing.T) {
			q := relicQuest()
			var first, second Navigator
			require.NoError(t, first.SelectScene(q, "s1"))
			require.NoError(t, second.SelectScene(q, "s1"))

			_, err1 := first.Choose(q, "s1", choiceID)
			_, err2 := second.Choose(q, "s1", choiceID)
			_, err3 := second.Choose(q, "s1", choiceID)

			assert.Equal(t, apperrors.TypeOf(err1), apperrors.TypeOf(err2))
			assert.Equal(t, apperrors.TypeOf(err2), apperrors.TypeOf(err3))
			assert.Equal(t, first, second)
		})
	}
}

func TestNavigatorChooseUnknownInputs(t *testing.T) {
	q := relicQuest()
	var nav Navigator
	require.NoError(t, nav.SelectScene(q, "s1"))

	_, err := nav.Choose(q, "ghost", "c1")
	assert.True(t, apperrors.IsNotFoundError(err))
	_, err = nav.Choose(q, "s1", "ghost")
	assert.True(t, apperrors.IsNotFoundError(err))
	assert.Equal(t, "s1", nav.CurrentSceneID())
	assert.False(t, nav.Ended())
}

func TestNavigatorChooseDefaultsToCurrentScene(t *testing.T) {
	q := relicQuest()
	var nav Navigator
	require.NoError(t, nav.SelectScene(q, "s1"))

	scene, err := nav.Choose(q, "", "c1")
	require.NoError(t, err)
	assert.Equal(t, "s2", scene.ID)
}

func TestProjectSceneFollowsQuestOrder(t *testing.T) {
	view, err := ProjectScene(relicQuest(), "s1")
	require.NoError(t, err)

	require.NotNil(t, view.Location)
	assert.Equal(t, "Tavern", view.Location.Name)

	names := []string{}
	for _, c := range view.Characters {
		names = append(names, c.Name)
	}
	assert.Equal(t, []string{"Ann", "Bob"}, names)
	require.Len(t, view.Items, 1)
	assert.Equal(t, "map", view.Items[0].ID)
	assert.Len(t, view.Choices, 3)
	assert.False(t, view.IsDeadEnd)

	end, err := ProjectScene(relicQuest(), "s2")
	require.NoError(t, err)
	assert.Nil(t, end.Location)
	assert.Empty(t, end.Characters)
	assert.True(t, end.IsDeadEnd)

	_, err = ProjectScene(relicQuest(), "ghost")
	assert.True(t, apperrors.IsNotFoundError(err))
}
