package relay

import (
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNormalize_fillsDefaults(t *testing.T) {
	m := &Manifest{
		Agent: AgentContext{AgentID: "a", OrgID: "o"},
		Action: ActionRequest{
			Provider:   "Stripe",
			Method:     "Create_Payment",
			Parameters: map[string]any{},
		},
		Justification: Justification{Reasoning: "r"},
	}
	m.Normalize()

	if m.ManifestID == uuid.Nil {
		t.Error("manifest_id not minted")
	}
	if m.Version != "1.0" || m.Environment != "production" {
		t.Errorf("defaults: version=%q environment=%q", m.Version, m.Environment)
	}
	if m.Timestamp.IsZero() || m.Timestamp.Location() != time.UTC {
		t.Errorf("timestamp = %v", m.Timestamp)
	}
	if m.Action.Provider != "stripe" || m.Action.Method != "create_payment" {
		t.Errorf("action not lowercased: %+v", m.Action)
	}
}

func TestNormalize_preservesCallerValues(t *testing.T) {
	id := uuid.New()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.FixedZone("CET", 3600))
	m := &Manifest{
		ManifestID:    id,
		Version:       "2.0",
		Timestamp:     ts,
		Agent:         AgentContext{AgentID: "a", OrgID: "o"},
		Action:        ActionRequest{Provider: "aws", Method: "put", Parameters: map[string]any{}},
		Justification: Justification{Reasoning: "r"},
		Environment:   "staging",
	}
	m.Normalize()

	if m.ManifestID != id || m.Version != "2.0" || m.Environment != "staging" {
		t.Errorf("caller values overwritten: %+v", m)
	}
	if m.Timestamp.Location() != time.UTC || !m.Timestamp.Equal(ts) {
		t.Errorf("timestamp not normalized to UTC in place: %v", m.Timestamp)
	}
}

func TestValidate_identCharset(t *testing.T) {
	valid := []string{"stripe", "create_payment", "s3-bucket", "v2"}
	invalid := []string{"", "Str!pe", "create payment", "päy", "UPPER"}

	base := func(provider, method string) *Manifest {
		return &Manifest{
			Agent:         AgentContext{AgentID: "a", OrgID: "o"},
			Action:        ActionRequest{Provider: provider, Method: method, Parameters: map[string]any{}},
			Justification: Justification{Reasoning: "r"},
		}
	}
	for _, s := range valid {
		if err := base(s, "m").Validate(); err != nil {
			t.Errorf("provider %q rejected: %v", s, err)
		}
	}
	for _, s := range invalid {
		if err := base(s, "m").Validate(); err == nil {
			t.Errorf("provider %q accepted", s)
		}
	}
}

func TestValidate_confidenceRange(t *testing.T) {
	mk := func(c float64) *Manifest {
		return &Manifest{
			Agent:         AgentContext{AgentID: "a", OrgID: "o"},
			Action:        ActionRequest{Provider: "p", Method: "m", Parameters: map[string]any{}},
			Justification: Justification{Reasoning: "r", ConfidenceScore: &c},
		}
	}
	if err := mk(0.5).Validate(); err != nil {
		t.Errorf("confidence 0.5 rejected: %v", err)
	}
	if err := mk(-0.1).Validate(); err == nil {
		t.Error("confidence -0.1 accepted")
	}
	if err := mk(1.1).Validate(); err == nil {
		t.Error("confidence 1.1 accepted")
	}
}

func TestTimestampISO_utcZSuffix(t *testing.T) {
	m := &Manifest{Timestamp: time.Date(2026, 1, 2, 3, 4, 5, 123000000, time.FixedZone("X", -7200))}
	got := m.TimestampISO()
	if !strings.HasSuffix(got, "Z") {
		t.Errorf("timestamp %q missing Z suffix", got)
	}
	if got != "2026-01-02T05:04:05.123Z" {
		t.Errorf("timestamp = %q", got)
	}
}

func TestPolicyInput_shape(t *testing.T) {
	conf := 0.9
	m := &Manifest{
		Agent: AgentContext{AgentID: "a", OrgID: "o", UserID: "u"},
		Action: ActionRequest{
			Provider:   "stripe",
			Method:     "create_payment",
			Parameters: map[string]any{"amount": 1},
		},
		Justification: Justification{Reasoning: "r", ConfidenceScore: &conf},
	}
	m.Normalize()

	in := m.PolicyInput()
	if in["manifest_id"] != m.ManifestID.String() {
		t.Errorf("manifest_id = %v", in["manifest_id"])
	}
	agent := in["agent"].(map[string]any)
	if agent["user_id"] != "u" {
		t.Errorf("agent block = %v", agent)
	}
	action := in["action"].(map[string]any)
	if action["provider"] != "stripe" || action["method"] != "create_payment" {
		t.Errorf("action block = %v", action)
	}
	j := in["justification"].(map[string]any)
	if j["confidence_score"] != 0.9 {
		t.Errorf("justification block = %v", j)
	}
	if in["environment"] != "production" {
		t.Errorf("environment = %v", in["environment"])
	}
}

func TestPolicyInput_omitsAbsentOptionals(t *testing.T) {
	m := &Manifest{
		Agent:         AgentContext{AgentID: "a", OrgID: "o"},
		Action:        ActionRequest{Provider: "p", Method: "m", Parameters: map[string]any{}},
		Justification: Justification{Reasoning: "r"},
	}
	m.Normalize()

	in := m.PolicyInput()
	if _, ok := in["agent"].(map[string]any)["user_id"]; ok {
		t.Error("user_id present for anonymous user")
	}
	j := in["justification"].(map[string]any)
	if _, ok := j["confidence_score"]; ok {
		t.Error("confidence_score present when unset")
	}
}

func TestNewSealID_format(t *testing.T) {
	id := uuid.MustParse("deadbeef-1111-2222-3333-444444444444")
	at := time.Unix(1700000000, 0)
	got := NewSealID(id, at)
	if got != "seal_1700000000_deadbeef" {
		t.Errorf("seal id = %q", got)
	}
}

func TestSealPredicates(t *testing.T) {
	now := time.Now().UTC()
	s := &Seal{Approved: true, ExpiresAt: now.Add(time.Minute)}

	if s.IsExpired(now) || !s.IsUsable(now) {
		t.Errorf("fresh seal: expired=%v usable=%v", s.IsExpired(now), s.IsUsable(now))
	}

	later := now.Add(2 * time.Minute)
	if !s.IsExpired(later) || s.IsUsable(later) {
		t.Error("expired seal still usable")
	}

	s.Executed = true
	if s.IsUsable(now) {
		t.Error("executed seal still usable")
	}

	denied := &Seal{Approved: false, ExpiresAt: now.Add(time.Minute)}
	if denied.IsUsable(now) {
		t.Error("denied seal usable")
	}
}
