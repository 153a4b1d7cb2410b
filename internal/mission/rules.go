// Package mission implements the mission rule table, the submission
// validator shared by the API and the client tracker, and the
// client-observable mission state machine.
//
// The rule table is data: rules/rules.json describes every per-mission
// predicate and the sequential gate, rules/payload.schema.json describes the
// accepted payload shape. Both are embedded and served verbatim to clients
// so every consumer interprets the same table.
package mission

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/arachnid-agents/mission-control/pkg/models"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

//go:embed rules/rules.json
var rulesJSON []byte

//go:embed rules/payload.schema.json
var payloadSchemaJSON []byte

// CheckKind names a predicate in the rule table.
type CheckKind string

const (
	CheckRequired    CheckKind = "required"
	CheckMinWords    CheckKind = "minWords"
	CheckMinLength   CheckKind = "minLength"
	CheckMaxLength   CheckKind = "maxLength"
	CheckHTTPURL     CheckKind = "httpURL"
	CheckSize        CheckKind = "size"
	CheckConfirmed   CheckKind = "confirmed"
	CheckDiffersFrom CheckKind = "differsFrom"
)

// Rule is one field predicate.
type Rule struct {
	Field   string    `json:"field"`
	Check   CheckKind `json:"check"`
	Min     int       `json:"min,omitempty"`
	Max     int       `json:"max,omitempty"`
	Ref     string    `json:"ref,omitempty"`
	Message string    `json:"message"`
}

// MissionRules is the rule set of one mission.
type MissionRules struct {
	ID          models.MissionID `json:"id"`
	Title       string           `json:"title"`
	BadgeRank   string           `json:"badgeRank"`
	Requires    models.MissionID `json:"requires,omitempty"`
	GateMessage string           `json:"gateMessage,omitempty"`
	Rules       []Rule           `json:"rules"`
}

// RuleTable is the compiled rule table.
type RuleTable struct {
	Version  int            `json:"version"`
	Sizes    []string       `json:"sizes"`
	Missions []MissionRules `json:"missions"`

	raw     []byte
	byID    map[models.MissionID]*MissionRules
	schemas map[models.MissionID]*jsonschema.Schema
}

var defaultTable = mustLoad()

func mustLoad() *RuleTable {
	t, err := LoadRuleTable(rulesJSON, payloadSchemaJSON)
	if err != nil {
		panic(fmt.Sprintf("mission: embedded rule table is invalid: %v", err))
	}
	return t
}

// Default returns the embedded rule table.
func Default() *RuleTable { return defaultTable }

// LoadRuleTable parses a rule table and compiles the per-mission payload
// schemas. Unknown fields, checks or gate references are rejected.
func LoadRuleTable(raw, schemaRaw []byte) (*RuleTable, error) {
	var t RuleTable
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("parse rule table: %w", err)
	}
	t.raw = raw
	t.byID = make(map[models.MissionID]*MissionRules, len(t.Missions))

	for i := range t.Missions {
		mr := &t.Missions[i]
		if mr.ID.Number() != i+1 {
			return nil, fmt.Errorf("mission %q out of order at position %d", mr.ID, i+1)
		}
		if mr.Requires != "" {
			if _, ok := t.byID[mr.Requires]; !ok {
				return nil, fmt.Errorf("mission %s requires unknown or later mission %q", mr.ID, mr.Requires)
			}
		}
		for _, r := range mr.Rules {
			if _, ok := fieldValue(models.MissionData{}, r.Field); !ok {
				return nil, fmt.Errorf("mission %s: unknown field %q", mr.ID, r.Field)
			}
			switch r.Check {
			case CheckRequired, CheckMinWords, CheckMinLength, CheckMaxLength,
				CheckHTTPURL, CheckSize, CheckConfirmed:
			case CheckDiffersFrom:
				if _, _, err := splitRef(r.Ref); err != nil {
					return nil, fmt.Errorf("mission %s: %w", mr.ID, err)
				}
			default:
				return nil, fmt.Errorf("mission %s: unknown check %q", mr.ID, r.Check)
			}
		}
		t.byID[mr.ID] = mr
	}
	if len(t.byID) != len(models.MissionIDs) {
		return nil, fmt.Errorf("rule table defines %d missions, want %d", len(t.byID), len(models.MissionIDs))
	}

	schemas, err := compilePayloadSchemas(schemaRaw)
	if err != nil {
		return nil, err
	}
	t.schemas = schemas
	return &t, nil
}

func compilePayloadSchemas(raw []byte) (map[models.MissionID]*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("unmarshal payload schema: %w", err)
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("payload.schema.json", doc); err != nil {
		return nil, fmt.Errorf("add payload schema resource: %w", err)
	}
	out := make(map[models.MissionID]*jsonschema.Schema, len(models.MissionIDs))
	for _, id := range models.MissionIDs {
		sch, err := c.Compile("payload.schema.json#/$defs/" + string(id))
		if err != nil {
			return nil, fmt.Errorf("compile payload schema for %s: %w", id, err)
		}
		out[id] = sch
	}
	return out, nil
}

// Raw returns the rule table document as embedded.
func (t *RuleTable) Raw() []byte { return t.raw }

// Mission returns the rule set for id.
func (t *RuleTable) Mission(id models.MissionID) (MissionRules, bool) {
	mr, ok := t.byID[id]
	if !ok {
		return MissionRules{}, false
	}
	return *mr, true
}

// Predecessor returns the mission that must be LOCKED before id can be submitted.
func (t *RuleTable) Predecessor(id models.MissionID) (models.MissionID, bool) {
	mr, ok := t.byID[id]
	if !ok || mr.Requires == "" {
		return "", false
	}
	return mr.Requires, true
}

// DecodePayload checks a raw mission payload against the mission's schema
// and decodes it. String fields are trimmed and the mission's rating
// defaults to 3 when omitted.
func (t *RuleTable) DecodePayload(id models.MissionID, raw json.RawMessage) (models.MissionData, error) {
	var data models.MissionData
	sch, ok := t.schemas[id]
	if !ok {
		return data, &RuleError{Kind: KindInput, Mission: id, Message: "Unknown mission"}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		raw = json.RawMessage(`{}`)
	}
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return data, &RuleError{Kind: KindInput, Mission: id, Message: "Invalid mission payload", cause: err}
	}
	if err := sch.Validate(inst); err != nil {
		return data, &RuleError{Kind: KindInput, Mission: id, Message: "Invalid mission payload", cause: err}
	}
	if err := json.Unmarshal(raw, &data); err != nil {
		return data, &RuleError{Kind: KindInput, Mission: id, Message: "Invalid mission payload", cause: err}
	}
	return Normalize(id, data), nil
}

// Normalize trims text fields and applies rating defaults for mission id.
func Normalize(id models.MissionID, d models.MissionData) models.MissionData {
	d.Feel = strings.TrimSpace(d.Feel)
	d.FeelNote = strings.TrimSpace(d.FeelNote)
	d.Flight = strings.TrimSpace(d.Flight)
	d.FlightNote = strings.TrimSpace(d.FlightNote)
	d.VideoURL = strings.TrimSpace(d.VideoURL)
	d.ShirtSize = strings.TrimSpace(d.ShirtSize)
	d.AceURL = strings.TrimSpace(d.AceURL)
	d.HoodieSize = strings.TrimSpace(d.HoodieSize)
	switch id {
	case models.MissionOne:
		if d.FeelRating == 0 {
			d.FeelRating = 3
		}
	case models.MissionTwo:
		if d.FlightRating == 0 {
			d.FlightRating = 3
		}
	}
	return d
}

// Validate evaluates the rules of mission id against data, with stored as
// the agent's current mission table. The sequential gate is checked first.
// Field rules short-circuit per field; when several fields fail, the last
// failing field in table order is reported.
func (t *RuleTable) Validate(id models.MissionID, data models.MissionData, stored models.MissionMap) error {
	mr, ok := t.byID[id]
	if !ok {
		return &RuleError{Kind: KindInput, Mission: id, Message: "Unknown mission"}
	}
	if mr.Requires != "" && !stored[mr.Requires].Locked() {
		return &RuleError{Kind: KindSequencing, Mission: id, Message: mr.GateMessage}
	}

	var last *RuleError
	failed := make(map[string]bool)
	for _, r := range mr.Rules {
		if failed[r.Field] {
			continue
		}
		if t.passes(r, data, stored) {
			continue
		}
		failed[r.Field] = true
		last = &RuleError{Kind: KindInput, Mission: id, Field: r.Field, Message: r.Message}
	}
	if last != nil {
		return last
	}
	return nil
}

// Ready reports whether data would pass Validate.
func (t *RuleTable) Ready(id models.MissionID, data models.MissionData, stored models.MissionMap) bool {
	return t.Validate(id, data, stored) == nil
}

// Active reports whether any field the mission's rules look at has content.
func (t *RuleTable) Active(id models.MissionID, data models.MissionData) bool {
	mr, ok := t.byID[id]
	if !ok {
		return false
	}
	for _, r := range mr.Rules {
		v, _ := fieldValue(data, r.Field)
		if v.isFlag && v.flag {
			return true
		}
		if !v.isFlag && strings.TrimSpace(v.text) != "" {
			return true
		}
	}
	return false
}

func (t *RuleTable) passes(r Rule, data models.MissionData, stored models.MissionMap) bool {
	v, _ := fieldValue(data, r.Field)
	text := strings.TrimSpace(v.text)
	switch r.Check {
	case CheckRequired:
		return text != ""
	case CheckMinWords:
		return CountWords(text) >= r.Min
	case CheckMinLength:
		return utf8.RuneCountInString(text) >= r.Min
	case CheckMaxLength:
		return utf8.RuneCountInString(text) <= r.Max
	case CheckHTTPURL:
		return strings.HasPrefix(text, "http")
	case CheckSize:
		for _, s := range t.Sizes {
			if text == s {
				return true
			}
		}
		return false
	case CheckConfirmed:
		return v.flag
	case CheckDiffersFrom:
		refID, refField, _ := splitRef(r.Ref)
		p := stored[refID]
		if p.Data == nil {
			return true
		}
		other, _ := fieldValue(*p.Data, refField)
		ref := strings.TrimSpace(other.text)
		return ref == "" || ref != text
	}
	return false
}

// CountWords counts whitespace-delimited non-empty tokens.
func CountWords(s string) int {
	return len(strings.Fields(s))
}

// CheckHoneypot rejects a submission whose hidden field was filled in.
func CheckHoneypot(v string) error {
	if strings.TrimSpace(v) != "" {
		return &RuleError{Kind: KindAbuse, Message: "Invalid submission"}
	}
	return nil
}

type value struct {
	text   string
	flag   bool
	isFlag bool
}

func fieldValue(d models.MissionData, field string) (value, bool) {
	switch field {
	case "feel":
		return value{text: d.Feel}, true
	case "feelNote":
		return value{text: d.FeelNote}, true
	case "flight":
		return value{text: d.Flight}, true
	case "flightNote":
		return value{text: d.FlightNote}, true
	case "videoUrl":
		return value{text: d.VideoURL}, true
	case "shirtSize":
		return value{text: d.ShirtSize}, true
	case "aceUrl":
		return value{text: d.AceURL}, true
	case "hoodieSize":
		return value{text: d.HoodieSize}, true
	case "confirmDistance200":
		return value{flag: d.ConfirmDistance200, isFlag: true}, true
	case "confirmRights":
		return value{flag: d.ConfirmRights, isFlag: true}, true
	}
	return value{}, false
}

func splitRef(ref string) (models.MissionID, string, error) {
	mid, field, ok := strings.Cut(ref, ".")
	if !ok {
		return "", "", fmt.Errorf("malformed reference %q", ref)
	}
	id, known := models.ParseMissionID(mid)
	if !known {
		return "", "", fmt.Errorf("reference %q names unknown mission", ref)
	}
	if _, ok := fieldValue(models.MissionData{}, field); !ok {
		return "", "", fmt.Errorf("reference %q names unknown field", ref)
	}
	return id, field, nil
}
