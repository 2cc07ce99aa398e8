package models

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/Corphon/QuestWeaver/internal/errors"
)

func TestGenerationRequestValidate(t *testing.T) {
	cases := []struct {
		name    string
		req     GenerationRequest
		wantErr bool
	}{
		{
			name: "form with starting point",
			req:  GenerationRequest{InputMethod: InputForm, StartingPoint: "A tavern", Setting: SettingFantasy, QuestStyle: StyleAdventure},
		},
		{
			name:    "form without starting point",
			req:     GenerationRequest{InputMethod: InputForm, Setting: SettingFantasy, QuestStyle: StyleAdventure},
			wantErr: true,
		},
		{
			name:    "form with blank starting point",
			req:     GenerationRequest{InputMethod: InputForm, StartingPoint: "   ", Setting: SettingFantasy, QuestStyle: StyleAdventure},
			wantErr: true,
		},
		{
			name: "file with content",
			req:  GenerationRequest{InputMethod: InputFile, FileContent: "SETTING: fantasy", Setting: SettingFantasy, QuestStyle: StyleAdventure},
		},
		{
			name:    "file without content",
			req:     GenerationRequest{InputMethod: InputFile, Setting: SettingFantasy, QuestStyle: StyleAdventure},
			wantErr: true,
		},
		{
			name:    "custom setting without text",
			req:     GenerationRequest{InputMethod: InputForm, StartingPoint: "Dock", Setting: SettingCustom, QuestStyle: StyleAdventure},
			wantErr: true,
		},
		{
			name:    "custom style without text",
			req:     GenerationRequest{InputMethod: InputForm, StartingPoint: "Dock", Setting: SettingFantasy, QuestStyle: StyleCustom},
			wantErr: true,
		},
		{
			name:    "unknown setting",
			req:     GenerationRequest{InputMethod: InputForm, StartingPoint: "Dock", Setting: "steampunk", QuestStyle: StyleAdventure},
			wantErr: true,
		},
		{
			name:    "scene count out of range",
			req:     GenerationRequest{InputMethod: InputForm, StartingPoint: "Dock", SceneCount: 50},
			wantErr: true,
		},
		{
			name: "defaults fill setting and style",
			req:  GenerationRequest{StartingPoint: "Dock"},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := tc.req
			err := req.Validate()
			if tc.wantErr {
				require.Error(t, err)
				assert.True(t, apperrors.IsValidationError(err), "期望验证错误, 得到 %v", err)
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestGenerationRequestFileLimits(t *testing.T) {
	big := GenerationRequest{InputMethod: InputFile, FileContent: strings.Repeat("a", MaxFileContentBytes+1)}
	err := big.Validate()
	require.Error(t, err)
	assert.True(t, apperrors.IsValidationError(err))

	binary := GenerationRequest{InputMethod: InputFile, FileContent: "ok\xff\xfe"}
	err = binary.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "UTF-8")
}

func TestGenerationRequestResolve(t *testing.T) {
	req := GenerationRequest{
		InputMethod:      InputForm,
		StartingPoint:    "  Orbital dock  ",
		Setting:          SettingCustom,
		CustomSetting:    "Floating islands",
		QuestStyle:       StyleCustom,
		CustomQuestStyle: "Heist",
	}
	require.NoError(t, req.Validate())

	assert.Equal(t, "Orbital dock", req.StartingPoint)
	assert.Equal(t, "Floating islands", req.ResolvedSetting())
	assert.Equal(t, "Heist", req.ResolvedQuestStyle())
	assert.Equal(t, DefaultSceneCount, req.EffectiveSceneCount())
	assert.Equal(t, DefaultCharacterCount, req.EffectiveCharacterCount())

	q := NewQuest("q1", req)
	assert.Equal(t, "Floating islands", q.Setting)
	assert.Equal(t, "Heist", q.QuestStyle)
	assert.Empty(t, q.Scenes)
	assert.NotNil(t, q.Scenes)
}
