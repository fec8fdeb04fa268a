package domain

import (
	"encoding/json"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validDraft(now time.Time) WagerDraft {
	return WagerDraft{
		Description:     "Lakers beat Celtics",
		OpenJoin:        true,
		StakeAmount:     big.NewInt(100_000_000),
		Token:           common.HexToAddress("0x036CbD53842c5426634e7929541eC2318f3dCF7e"),
		EndDate:         now.Add(24 * time.Hour),
		MaxParticipants: 2,
		Category:        SportsFields{Sport: "basketball", League: "nba", TeamA: "Lakers", TeamB: "Celtics"},
	}
}

func TestWagerDraftValidate(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	require.NoError(t, validDraft(now).Validate(now))

	cases := map[string]func(d *WagerDraft){
		"empty description": func(d *WagerDraft) { d.Description = "  " },
		"zero stake":        func(d *WagerDraft) { d.StakeAmount = big.NewInt(0) },
		"missing token":     func(d *WagerDraft) { d.Token = common.Address{} },
		"past end date":     func(d *WagerDraft) { d.EndDate = now },
		"one slot":          func(d *WagerDraft) { d.MaxParticipants = 1 },
		"closed no opponent": func(d *WagerDraft) {
			d.OpenJoin = false
		},
		"same teams": func(d *WagerDraft) {
			d.Category = SportsFields{Sport: "soccer", TeamA: "Arsenal", TeamB: "arsenal"}
		},
		"duplicate participant": func(d *WagerDraft) {
			d.MaxParticipants = 5
			p := Participant{Name: "bob", Address: common.HexToAddress("0x01")}
			d.Participants = []Participant{p, p}
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			d := validDraft(now)
			mutate(&d)
			err := d.Validate(now)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "want ValidationError, got %v", err)
		})
	}
}

func TestWagerDraftOpponent(t *testing.T) {
	d := validDraft(time.Now())
	assert.Equal(t, common.Address{}, d.Opponent())

	alice := common.HexToAddress("0x00000000000000000000000000000000000000aa")
	d.Participants = []Participant{{Name: "alice", Address: alice}}
	assert.Equal(t, alice, d.Opponent())
	assert.Equal(t, BetTypeOneVsOne, d.BetTypeOf())
}

func TestDecodeCategoryFields(t *testing.T) {
	raw := json.RawMessage(`{"predictionAsset":"BTC","targetPrice":"100000","direction":"above"}`)
	f, err := DecodeCategoryFields(TemplatePrediction, raw)
	require.NoError(t, err)
	require.NoError(t, f.Validate())
	assert.Equal(t, TemplatePrediction, f.Template())
	assert.Equal(t, "BTC", f.(PredictionFields).PredictionAsset)

	_, err = DecodeCategoryFields("LOTTERY", raw)
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))

	_, err = DecodeCategoryFields(TemplateCustom, nil)
	assert.True(t, errors.As(err, &verr))
}

func TestMetadataDocumentShape(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	doc := validDraft(now).Metadata(now)
	b, err := json.Marshal(doc)
	require.NoError(t, err)

	var m map[string]any
	require.NoError(t, json.Unmarshal(b, &m))
	assert.Equal(t, "SPORTS", m["template"])
	assert.Equal(t, true, m["isOpenJoin"])
	assert.Equal(t, "0x0000000000000000000000000000000000000000", m["opponent"])
	assert.Equal(t, []any{}, m["participants"])
	assert.Equal(t, "Lakers", m["categoryData"].(map[string]any)["teamA"])
}
