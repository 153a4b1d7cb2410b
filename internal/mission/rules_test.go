package mission_test

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/arachnid-agents/mission-control/internal/mission"
	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func words(n int) string {
	parts := make([]string, n)
	for i := range parts {
		parts[i] = string(rune('a' + i%26))
	}
	return strings.Join(parts, " ")
}

func lockedMap(ids ...models.MissionID) models.MissionMap {
	m := models.NewMissionMap()
	for _, id := range ids {
		m[id] = models.MissionProgress{Status: models.MissionLocked, Data: &models.MissionData{}}
	}
	return m
}

func validM2() models.MissionData {
	return models.MissionData{
		Flight:             "Flew straight and true",
		VideoURL:           "https://video.example/flight",
		ShirtSize:          "L",
		ConfirmDistance200: true,
		ConfirmRights:      true,
	}
}

func validM3() models.MissionData {
	return models.MissionData{
		AceURL:             "https://video.example/ace",
		HoodieSize:         "XL",
		ConfirmDistance200: true,
		ConfirmRights:      true,
	}
}

func ruleErr(t *testing.T, err error) *mission.RuleError {
	t.Helper()
	var re *mission.RuleError
	require.True(t, errors.As(err, &re), "expected *RuleError, got %v", err)
	return re
}

func TestCountWords(t *testing.T) {
	assert.Equal(t, 0, mission.CountWords("   "))
	assert.Equal(t, 3, mission.CountWords(" one\ttwo\n three  "))
	assert.Equal(t, 25, mission.CountWords(words(25)))
}

func TestMissionOne_WordBoundary(t *testing.T) {
	rules := mission.Default()
	stored := models.NewMissionMap()

	err := rules.Validate(models.MissionOne, models.MissionData{Feel: words(24)}, stored)
	re := ruleErr(t, err)
	assert.Equal(t, mission.KindInput, re.Kind)
	assert.Equal(t, "feel", re.Field)
	assert.Equal(t, "Mission 1 notes must be at least 25 words (max 2000 characters).", re.Message)

	assert.NoError(t, rules.Validate(models.MissionOne, models.MissionData{Feel: words(25)}, stored))
}

func TestMissionOne_LengthCap(t *testing.T) {
	rules := mission.Default()
	stored := models.NewMissionMap()

	base := words(25)
	atCap := base + strings.Repeat("x", 2000-len(base))
	require.Len(t, atCap, 2000)
	assert.NoError(t, rules.Validate(models.MissionOne, models.MissionData{Feel: atCap}, stored))

	overCap := atCap + "y"
	assert.Error(t, rules.Validate(models.MissionOne, models.MissionData{Feel: overCap}, stored))
}

func TestMissionTwo_RequiresMissionOneLocked(t *testing.T) {
	rules := mission.Default()

	err := rules.Validate(models.MissionTwo, validM2(), models.NewMissionMap())
	re := ruleErr(t, err)
	assert.Equal(t, mission.KindSequencing, re.Kind)
	assert.Equal(t, "Complete Mission 1 before submitting Mission 2.", re.Message)

	assert.NoError(t, rules.Validate(models.MissionTwo, validM2(), lockedMap(models.MissionOne)))
}

func TestMissionTwo_EachFieldViolation(t *testing.T) {
	rules := mission.Default()
	stored := lockedMap(models.MissionOne)

	tests := []struct {
		name   string
		mutate func(*models.MissionData)
		field  string
	}{
		{"empty flight", func(d *models.MissionData) { d.Flight = "" }, "flight"},
		{"short flight", func(d *models.MissionData) { d.Flight = "too short" }, "flight"},
		{"missing video", func(d *models.MissionData) { d.VideoURL = "" }, "videoUrl"},
		{"non-http video", func(d *models.MissionData) { d.VideoURL = "ftp://video" }, "videoUrl"},
		{"missing shirt", func(d *models.MissionData) { d.ShirtSize = "" }, "shirtSize"},
		{"unknown shirt", func(d *models.MissionData) { d.ShirtSize = "3XL" }, "shirtSize"},
		{"distance unconfirmed", func(d *models.MissionData) { d.ConfirmDistance200 = false }, "confirmDistance200"},
		{"rights unconfirmed", func(d *models.MissionData) { d.ConfirmRights = false }, "confirmRights"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := validM2()
			tt.mutate(&d)
			re := ruleErr(t, rules.Validate(models.MissionTwo, d, stored))
			assert.Equal(t, tt.field, re.Field)
		})
	}
}

func TestMissionTwo_LastFailingFieldReported(t *testing.T) {
	rules := mission.Default()
	d := validM2()
	d.Flight = ""
	d.ConfirmRights = false

	re := ruleErr(t, rules.Validate(models.MissionTwo, d, lockedMap(models.MissionOne)))
	assert.Equal(t, "Confirm the authorization toggles for Mission 2.", re.Message)
}

func TestMissionThree_RejectsReusedVideo(t *testing.T) {
	rules := mission.Default()
	stored := lockedMap(models.MissionOne, models.MissionTwo)
	m2 := validM2()
	stored[models.MissionTwo] = models.MissionProgress{Status: models.MissionLocked, Data: &m2}

	d := validM3()
	d.AceURL = m2.VideoURL
	re := ruleErr(t, rules.Validate(models.MissionThree, d, stored))
	assert.Equal(t, "aceUrl", re.Field)
	assert.Equal(t, "Mission 3 video must be different from Mission 2.", re.Message)

	assert.NoError(t, rules.Validate(models.MissionThree, validM3(), stored))
}

func TestMissionThree_RequiresMissionTwoLocked(t *testing.T) {
	rules := mission.Default()
	re := ruleErr(t, rules.Validate(models.MissionThree, validM3(), lockedMap(models.MissionOne)))
	assert.Equal(t, mission.KindSequencing, re.Kind)
}

func TestMissionThree_NoMissionTwoVideoStillValid(t *testing.T) {
	rules := mission.Default()
	stored := lockedMap(models.MissionOne, models.MissionTwo)
	assert.NoError(t, rules.Validate(models.MissionThree, validM3(), stored))
}

func TestCheckHoneypot(t *testing.T) {
	assert.NoError(t, mission.CheckHoneypot(""))
	assert.NoError(t, mission.CheckHoneypot("   "))
	re := ruleErr(t, mission.CheckHoneypot("Acme Corp"))
	assert.Equal(t, mission.KindAbuse, re.Kind)
}

func TestDecodePayload(t *testing.T) {
	rules := mission.Default()

	data, err := rules.DecodePayload(models.MissionOne, json.RawMessage(`{"feel":"  hello  "}`))
	require.NoError(t, err)
	assert.Equal(t, "hello", data.Feel)
	assert.Equal(t, 3, data.FeelRating)

	_, err = rules.DecodePayload(models.MissionOne, json.RawMessage(`{"feelRating":9}`))
	assert.Equal(t, mission.KindInput, ruleErr(t, err).Kind)

	_, err = rules.DecodePayload(models.MissionTwo, json.RawMessage(`{"confirmRights":"yes"}`))
	assert.Error(t, err)

	// Fields of another mission are not accepted.
	_, err = rules.DecodePayload(models.MissionThree, json.RawMessage(`{"feel":"x"}`))
	assert.Error(t, err)

	data, err = rules.DecodePayload(models.MissionThree, nil)
	require.NoError(t, err)
	assert.Equal(t, models.MissionData{}, data)
}

func TestDecodePayload_LongProseIsLeftToRules(t *testing.T) {
	rules := mission.Default()
	long := words(30) + " " + strings.Repeat("x", 4500)
	raw, err := json.Marshal(map[string]any{"feel": long})
	require.NoError(t, err)

	data, err := rules.DecodePayload(models.MissionOne, raw)
	require.NoError(t, err)
	re := ruleErr(t, rules.Validate(models.MissionOne, data, models.NewMissionMap()))
	assert.Equal(t, "feel", re.Field)
	assert.Equal(t, "Mission 1 notes must be at least 25 words (max 2000 characters).", re.Message)

	// Free-form notes keep their schema bound.
	raw, err = json.Marshal(map[string]any{"feel": words(30), "feelNote": strings.Repeat("x", 4001)})
	require.NoError(t, err)
	_, err = rules.DecodePayload(models.MissionOne, raw)
	assert.Equal(t, "Invalid mission payload", ruleErr(t, err).Message)
}

func TestActive(t *testing.T) {
	rules := mission.Default()
	assert.False(t, rules.Active(models.MissionOne, models.MissionData{FeelNote: "note only"}))
	assert.True(t, rules.Active(models.MissionOne, models.MissionData{Feel: "x"}))
	assert.False(t, rules.Active(models.MissionTwo, models.MissionData{}))
	assert.True(t, rules.Active(models.MissionTwo, models.MissionData{ConfirmRights: true}))
	assert.True(t, rules.Active(models.MissionThree, models.MissionData{HoodieSize: "S"}))
}

func TestPredecessorTable(t *testing.T) {
	rules := mission.Default()
	_, ok := rules.Predecessor(models.MissionOne)
	assert.False(t, ok)
	prev, ok := rules.Predecessor(models.MissionTwo)
	assert.True(t, ok)
	assert.Equal(t, models.MissionOne, prev)
	prev, _ = rules.Predecessor(models.MissionThree)
	assert.Equal(t, models.MissionTwo, prev)
}

func TestLoadRuleTable_RejectsUnknownField(t *testing.T) {
	raw := []byte(`{"version":1,"sizes":["S"],"missions":[
		{"id":"m1","rules":[{"field":"nope","check":"required","message":"x"}]},
		{"id":"m2","rules":[]},{"id":"m3","rules":[]}]}`)
	_, err := mission.LoadRuleTable(raw, []byte(`{"$defs":{"m1":{},"m2":{},"m3":{}}}`))
	assert.ErrorContains(t, err, "unknown field")
}

func TestLoadRuleTable_RejectsForwardGate(t *testing.T) {
	raw := []byte(`{"version":1,"sizes":["S"],"missions":[
		{"id":"m1","requires":"m2","rules":[]},
		{"id":"m2","rules":[]},{"id":"m3","rules":[]}]}`)
	_, err := mission.LoadRuleTable(raw, []byte(`{"$defs":{"m1":{},"m2":{},"m3":{}}}`))
	assert.ErrorContains(t, err, "requires unknown or later mission")
}

func TestRawTableIsServable(t *testing.T) {
	var doc map[string]any
	require.NoError(t, json.Unmarshal(mission.Default().Raw(), &doc))
	assert.Len(t, doc["missions"], 3)
}
