package tenancy

import (
	"context"
	"regexp"
	"testing"

	"github.com/relay-protocol/relay/internal/model"
	"go.uber.org/zap"
)

var (
	orgIDPattern   = regexp.MustCompile(`^org_[0-9a-f]{16}$`)
	agentIDPattern = regexp.MustCompile(`^agent_[0-9a-f]{16}$`)
)

func TestRegisterOrganization_mintsOrgAndAdmin(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, zap.NewNop())

	org, admin, err := svc.RegisterOrganization(context.Background(), &model.OrgRegisterRequest{
		OrgName:      "Acme",
		ContactEmail: "ops@acme.test",
	})
	if err != nil {
		t.Fatalf("RegisterOrganization: %v", err)
	}

	if !orgIDPattern.MatchString(org.OrgID) {
		t.Errorf("org_id %q does not match org_{16 hex}", org.OrgID)
	}
	if want := "agent_" + org.OrgID + "_admin"; admin.AgentID != want {
		t.Errorf("admin agent_id = %q, want %q", admin.AgentID, want)
	}
	if admin.OrgID != org.OrgID || !admin.Active || admin.AgentName != "admin-agent" {
		t.Errorf("admin agent = %+v", admin)
	}

	// Both rows must be persisted.
	if _, err := store.GetOrganization(context.Background(), org.OrgID); err != nil {
		t.Errorf("org not stored: %v", err)
	}
	if _, err := store.GetAgent(context.Background(), admin.AgentID); err != nil {
		t.Errorf("admin agent not stored: %v", err)
	}
}

func TestRegisterAgent_underOrg(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, zap.NewNop())

	org, _, err := svc.RegisterOrganization(context.Background(), &model.OrgRegisterRequest{
		OrgName: "Acme", ContactEmail: "ops@acme.test",
	})
	if err != nil {
		t.Fatalf("RegisterOrganization: %v", err)
	}

	agent, err := svc.RegisterAgent(context.Background(), org.OrgID, &model.AgentRegisterRequest{
		AgentName:   "worker",
		Description: "payment bot",
	})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	if !agentIDPattern.MatchString(agent.AgentID) {
		t.Errorf("agent_id %q does not match agent_{16 hex}", agent.AgentID)
	}
	if agent.OrgID != org.OrgID || !agent.Active {
		t.Errorf("agent = %+v", agent)
	}

	count, err := store.CountAgents(context.Background(), org.OrgID)
	if err != nil {
		t.Fatalf("CountAgents: %v", err)
	}
	if count != 2 { // admin + worker
		t.Errorf("agent count = %d, want 2", count)
	}
}

func TestGetOrganization_withAgentCount(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, zap.NewNop())

	org, _, _ := svc.RegisterOrganization(context.Background(), &model.OrgRegisterRequest{
		OrgName: "Acme", ContactEmail: "ops@acme.test",
	})

	got, count, err := svc.GetOrganization(context.Background(), org.OrgID)
	if err != nil {
		t.Fatalf("GetOrganization: %v", err)
	}
	if got.OrgName != "Acme" || count != 1 {
		t.Errorf("org = %+v count = %d", got, count)
	}

	if _, _, err := svc.GetOrganization(context.Background(), "org_missing"); err == nil {
		t.Error("expected error for unknown org")
	}
}

func TestListAgents_scopedToOrg(t *testing.T) {
	store := NewMemoryStore()
	svc := NewService(store, zap.NewNop())

	orgA, _, _ := svc.RegisterOrganization(context.Background(), &model.OrgRegisterRequest{
		OrgName: "A", ContactEmail: "a@a.test",
	})
	orgB, _, _ := svc.RegisterOrganization(context.Background(), &model.OrgRegisterRequest{
		OrgName: "B", ContactEmail: "b@b.test",
	})
	if _, err := svc.RegisterAgent(context.Background(), orgA.OrgID, &model.AgentRegisterRequest{AgentName: "w1"}); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	agentsA, err := svc.ListAgents(context.Background(), orgA.OrgID)
	if err != nil {
		t.Fatalf("ListAgents: %v", err)
	}
	if len(agentsA) != 2 {
		t.Fatalf("org A agents = %d, want 2", len(agentsA))
	}
	for _, a := range agentsA {
		if a.OrgID != orgA.OrgID {
			t.Errorf("foreign agent leaked into listing: %+v", a)
		}
	}

	agentsB, _ := svc.ListAgents(context.Background(), orgB.OrgID)
	if len(agentsB) != 1 {
		t.Errorf("org B agents = %d, want 1", len(agentsB))
	}
}

func TestMintID_format(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := mintID("org")
		if !orgIDPattern.MatchString(id) {
			t.Fatalf("minted id %q malformed", id)
		}
		if seen[id] {
			t.Fatalf("id %q minted twice in 100 draws", id)
		}
		seen[id] = true
	}
}
