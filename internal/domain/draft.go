package domain

import (
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Template selects the category field set of a wager.
type Template string

const (
	TemplateSports     Template = "SPORTS"
	TemplateChallenge  Template = "CHALLENGE"
	TemplatePrediction Template = "PREDICTION"
	TemplateCustom     Template = "CUSTOM"
)

// CategoryFields is the per-template payload of a draft. Exactly one of
// SportsFields, ChallengeFields, PredictionFields, CustomFields.
type CategoryFields interface {
	Template() Template
	Validate() error
}

// Sports supported by the lookup tables.
var Sports = []string{"basketball", "football", "soccer", "baseball", "hockey"}

type SportsFields struct {
	Sport    string `json:"sport"`
	League   string `json:"league"`
	TeamA    string `json:"teamA"`
	TeamB    string `json:"teamB"`
	GameDate string `json:"gameDate,omitempty"`
	Venue    string `json:"venue,omitempty"`
	BetType  string `json:"betType,omitempty"`
}

func (SportsFields) Template() Template { return TemplateSports }

func (f SportsFields) Validate() error {
	if !knownSport(f.Sport) {
		return Invalid("categoryData.sport", "unknown sport %q", f.Sport)
	}
	if strings.TrimSpace(f.TeamA) == "" || strings.TrimSpace(f.TeamB) == "" {
		return Invalid("categoryData.teams", "both teams are required")
	}
	if strings.EqualFold(f.TeamA, f.TeamB) {
		return Invalid("categoryData.teams", "teams must differ")
	}
	return nil
}

type ChallengeFields struct {
	ChallengeCategory  string `json:"challengeCategory"`
	ChallengeType      string `json:"challengeType"`
	TargetValue        string `json:"targetValue"`
	TargetUnit         string `json:"targetUnit,omitempty"`
	Deadline           string `json:"deadline,omitempty"`
	VerificationMethod string `json:"verificationMethod,omitempty"`
}

func (ChallengeFields) Template() Template { return TemplateChallenge }

func (f ChallengeFields) Validate() error {
	if strings.TrimSpace(f.ChallengeType) == "" {
		return Invalid("categoryData.challengeType", "required")
	}
	if strings.TrimSpace(f.TargetValue) == "" {
		return Invalid("categoryData.targetValue", "required")
	}
	return nil
}

type PredictionFields struct {
	PredictionCategory string `json:"predictionCategory"`
	PredictionAsset    string `json:"predictionAsset"`
	TargetPrice        string `json:"targetPrice"`
	Direction          string `json:"direction"`
	Source             string `json:"source,omitempty"`
}

func (PredictionFields) Template() Template { return TemplatePrediction }

func (f PredictionFields) Validate() error {
	if strings.TrimSpace(f.PredictionAsset) == "" {
		return Invalid("categoryData.predictionAsset", "required")
	}
	if strings.TrimSpace(f.TargetPrice) == "" {
		return Invalid("categoryData.targetPrice", "required")
	}
	switch strings.ToLower(f.Direction) {
	case "above", "below":
	default:
		return Invalid("categoryData.direction", "must be above or below")
	}
	return nil
}

type CustomFields struct {
	CustomTemplate    string `json:"customTemplate,omitempty"`
	CustomTitle       string `json:"customTitle"`
	CustomDescription string `json:"customDescription,omitempty"`
	CustomRules       string `json:"customRules,omitempty"`
	CustomDeadline    string `json:"customDeadline,omitempty"`
}

func (CustomFields) Template() Template { return TemplateCustom }

func (f CustomFields) Validate() error {
	if strings.TrimSpace(f.CustomTitle) == "" {
		return Invalid("categoryData.customTitle", "required")
	}
	return nil
}

// DecodeCategoryFields selects the variant for t and decodes raw into it.
func DecodeCategoryFields(t Template, raw json.RawMessage) (CategoryFields, error) {
	var fields CategoryFields
	switch t {
	case TemplateSports:
		var f SportsFields
		if err := decodeFields(raw, &f); err != nil {
			return nil, err
		}
		fields = f
	case TemplateChallenge:
		var f ChallengeFields
		if err := decodeFields(raw, &f); err != nil {
			return nil, err
		}
		fields = f
	case TemplatePrediction:
		var f PredictionFields
		if err := decodeFields(raw, &f); err != nil {
			return nil, err
		}
		fields = f
	case TemplateCustom:
		var f CustomFields
		if err := decodeFields(raw, &f); err != nil {
			return nil, err
		}
		fields = f
	default:
		return nil, Invalid("template", "unknown template %q", t)
	}
	return fields, nil
}

func decodeFields(raw json.RawMessage, dst any) error {
	if len(raw) == 0 {
		return Invalid("categoryData", "required")
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return Invalid("categoryData", "malformed: %v", err)
	}
	return nil
}

func knownSport(s string) bool {
	for _, sp := range Sports {
		if sp == s {
			return true
		}
	}
	return false
}

// Participant is a manually added participant on the creation form.
type Participant struct {
	Name    string         `json:"name"`
	Address common.Address `json:"address"`
}

// WagerDraft is the user-entered data for a new bet. It only lives until the
// creation flow has converted it into a metadata document and a createBet call.
type WagerDraft struct {
	Description     string
	Participants    []Participant
	OpenJoin        bool
	StakeAmount     *big.Int
	Token           common.Address
	EndDate         time.Time
	MaxParticipants uint64
	Category        CategoryFields
}

// Validate checks the draft before any network call is made.
func (d WagerDraft) Validate(now time.Time) error {
	if strings.TrimSpace(d.Description) == "" {
		return Invalid("description", "required")
	}
	if d.Token == (common.Address{}) {
		return Invalid("token", "required")
	}
	if d.StakeAmount == nil || d.StakeAmount.Sign() <= 0 {
		return Invalid("amount", "must be greater than zero")
	}
	if !d.EndDate.After(now) {
		return Invalid("endDate", "must be in the future")
	}
	if d.MaxParticipants < 2 {
		return Invalid("maxParticipants", "at least 2 participants required")
	}
	if uint64(len(d.Participants)) >= d.MaxParticipants {
		return Invalid("participants", "more participants than slots")
	}
	if !d.OpenJoin && len(d.Participants) == 0 {
		return Invalid("participants", "add an opponent or allow open join")
	}
	seen := make(map[common.Address]struct{}, len(d.Participants))
	for _, p := range d.Participants {
		if p.Address == (common.Address{}) {
			return Invalid("participants", "participant %q has no address", p.Name)
		}
		if _, dup := seen[p.Address]; dup {
			return Invalid("participants", "duplicate participant %s", p.Address.Hex())
		}
		seen[p.Address] = struct{}{}
	}
	if d.Category == nil {
		return Invalid("template", "required")
	}
	return d.Category.Validate()
}

// Opponent is the first manually added participant, or the zero address for
// an open-join bet without one.
func (d WagerDraft) Opponent() common.Address {
	if len(d.Participants) == 0 {
		return common.Address{}
	}
	return d.Participants[0].Address
}

// BetTypeOf derives the contract bet type from the slot count.
func (d WagerDraft) BetTypeOf() BetType {
	if d.MaxParticipants == 2 {
		return BetTypeOneVsOne
	}
	return BetTypeGroup
}

// MetadataDocument is the JSON pinned off-chain for every new bet.
type MetadataDocument struct {
	Template        Template       `json:"template"`
	Description     string         `json:"description"`
	CategoryData    CategoryFields `json:"categoryData"`
	Participants    []Participant  `json:"participants"`
	Opponent        common.Address `json:"opponent"`
	IsOpenJoin      bool           `json:"isOpenJoin"`
	MaxParticipants uint64         `json:"maxParticipants"`
	EndDate         string         `json:"endDate"`
	CreatedAt       string         `json:"createdAt"`
}

// Metadata builds the document to pin for this draft.
func (d WagerDraft) Metadata(createdAt time.Time) MetadataDocument {
	participants := d.Participants
	if participants == nil {
		participants = []Participant{}
	}
	return MetadataDocument{
		Template:        d.Category.Template(),
		Description:     d.Description,
		CategoryData:    d.Category,
		Participants:    participants,
		Opponent:        d.Opponent(),
		IsOpenJoin:      d.OpenJoin,
		MaxParticipants: d.MaxParticipants,
		EndDate:         d.EndDate.UTC().Format(time.RFC3339),
		CreatedAt:       createdAt.UTC().Format(time.RFC3339),
	}
}

func (d WagerDraft) String() string {
	tmpl := Template("")
	if d.Category != nil {
		tmpl = d.Category.Template()
	}
	return fmt.Sprintf("draft(%s, stake=%s, max=%d, open=%t)", tmpl, d.StakeAmount, d.MaxParticipants, d.OpenJoin)
}
