package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/relay-protocol/relay/internal/model"
)

func seedDecision(t *testing.T, l *MemoryLedger, orgID, provider string, approved bool, at time.Time) (*ManifestRow, *model.Seal) {
	t.Helper()
	m := &model.Manifest{
		ManifestID: uuid.New(),
		Version:    "1.0",
		Timestamp:  at,
		Agent:      model.AgentContext{AgentID: "agent_" + orgID, OrgID: orgID},
		Action: model.ActionRequest{
			Provider:   provider,
			Method:     "create_payment",
			Parameters: map[string]any{"amount": float64(100)},
		},
		Justification: model.Justification{Reasoning: "test"},
		Environment:   "production",
	}
	row, err := NewManifestRow(m)
	if err != nil {
		t.Fatalf("NewManifestRow: %v", err)
	}
	s := &model.Seal{
		SealID:        model.NewSealID(m.ManifestID, at),
		ManifestID:    m.ManifestID,
		Approved:      approved,
		PolicyVersion: "v1",
		Signature:     "c2ln",
		PublicKey:     "cHVi",
		IssuedAt:      at,
		ExpiresAt:     at.Add(5 * time.Minute),
	}
	if err := l.WriteDecision(context.Background(), row, s); err != nil {
		t.Fatalf("WriteDecision: %v", err)
	}
	return row, s
}

func TestWriteDecision_rejectsDuplicates(t *testing.T) {
	l := NewMemory()
	row, s := seedDecision(t, l, "org_1", "stripe", true, time.Now().UTC())

	if err := l.WriteDecision(context.Background(), row, s); !errors.Is(err, ErrDuplicate) {
		t.Errorf("duplicate write: got %v, want ErrDuplicate", err)
	}
}

func TestGetSeal_and_GetManifest(t *testing.T) {
	l := NewMemory()
	row, s := seedDecision(t, l, "org_1", "stripe", true, time.Now().UTC())

	gotSeal, err := l.GetSeal(context.Background(), s.SealID)
	if err != nil {
		t.Fatalf("GetSeal: %v", err)
	}
	if gotSeal.ManifestID != row.ManifestID {
		t.Errorf("seal manifest linkage wrong")
	}

	gotRow, err := l.GetManifest(context.Background(), row.ManifestID)
	if err != nil {
		t.Fatalf("GetManifest: %v", err)
	}
	m, err := gotRow.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if m.Action.Provider != "stripe" {
		t.Errorf("decoded manifest provider = %q", m.Action.Provider)
	}

	if _, err := l.GetSeal(context.Background(), "seal_0_none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown seal: got %v, want ErrNotFound", err)
	}
	if _, err := l.GetManifest(context.Background(), uuid.New()); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown manifest: got %v, want ErrNotFound", err)
	}
}

func TestMarkExecuted_lifecycle(t *testing.T) {
	l := NewMemory()
	_, s := seedDecision(t, l, "org_1", "stripe", true, time.Now().UTC())

	execAt, err := l.MarkExecuted(context.Background(), s.SealID)
	if err != nil {
		t.Fatalf("first MarkExecuted: %v", err)
	}
	if execAt.IsZero() {
		t.Error("executed_at must be set")
	}

	if _, err := l.MarkExecuted(context.Background(), s.SealID); !errors.Is(err, ErrAlreadyExecuted) {
		t.Errorf("replay: got %v, want ErrAlreadyExecuted", err)
	}
	if _, err := l.MarkExecuted(context.Background(), "seal_0_none"); !errors.Is(err, ErrNotFound) {
		t.Errorf("unknown seal: got %v, want ErrNotFound", err)
	}

	got, _ := l.GetSeal(context.Background(), s.SealID)
	if !got.Executed || got.ExecutedAt == nil {
		t.Errorf("stored seal state not flipped: %+v", got)
	}
}

func TestMarkExecuted_rejectsExpiredSeal(t *testing.T) {
	l := NewMemory()
	// Issued an hour ago with a 5 minute TTL, so long past expiry.
	_, s := seedDecision(t, l, "org_1", "stripe", true, time.Now().UTC().Add(-time.Hour))

	if _, err := l.MarkExecuted(context.Background(), s.SealID); !errors.Is(err, ErrExpired) {
		t.Errorf("expired seal: got %v, want ErrExpired", err)
	}

	got, _ := l.GetSeal(context.Background(), s.SealID)
	if got.Executed {
		t.Error("expired seal transitioned to executed")
	}
}

func TestMarkExecuted_exactlyOneWinnerUnderConcurrency(t *testing.T) {
	l := NewMemory()
	_, s := seedDecision(t, l, "org_1", "stripe", true, time.Now().UTC())

	const callers = 32
	var wg sync.WaitGroup
	results := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := l.MarkExecuted(context.Background(), s.SealID)
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	wins, replays := 0, 0
	for err := range results {
		switch {
		case err == nil:
			wins++
		case errors.Is(err, ErrAlreadyExecuted):
			replays++
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if wins != 1 || replays != callers-1 {
		t.Errorf("wins=%d replays=%d, want exactly one winner of %d", wins, replays, callers)
	}
}

func TestQuery_filtersAndOrdering(t *testing.T) {
	l := NewMemory()
	base := time.Now().UTC().Add(-time.Hour)
	seedDecision(t, l, "org_a", "stripe", true, base)
	seedDecision(t, l, "org_a", "sendgrid", false, base.Add(time.Minute))
	seedDecision(t, l, "org_b", "stripe", true, base.Add(2*time.Minute))

	t.Run("org scope", func(t *testing.T) {
		recs, err := l.Query(context.Background(), Filter{OrgID: "org_a"})
		if err != nil {
			t.Fatalf("Query: %v", err)
		}
		if len(recs) != 2 {
			t.Fatalf("got %d records, want 2", len(recs))
		}
		// Newest first.
		if !recs[0].Manifest.CreatedAt.After(recs[1].Manifest.CreatedAt) {
			t.Error("results not ordered newest first")
		}
	})

	t.Run("provider filter", func(t *testing.T) {
		recs, _ := l.Query(context.Background(), Filter{Provider: "stripe"})
		if len(recs) != 2 {
			t.Fatalf("got %d stripe records, want 2", len(recs))
		}
	})

	t.Run("approved tri-state", func(t *testing.T) {
		approved := true
		recs, _ := l.Query(context.Background(), Filter{OrgID: "org_a", ApprovedOnly: &approved})
		if len(recs) != 1 || !recs[0].Seal.Approved {
			t.Fatalf("approved-only: got %d", len(recs))
		}
		denied := false
		recs, _ = l.Query(context.Background(), Filter{OrgID: "org_a", ApprovedOnly: &denied})
		if len(recs) != 1 || recs[0].Seal.Approved {
			t.Fatalf("denied-only: got %d", len(recs))
		}
	})

	t.Run("pagination", func(t *testing.T) {
		recs, _ := l.Query(context.Background(), Filter{Limit: 1, Offset: 1})
		if len(recs) != 1 {
			t.Fatalf("got %d, want 1", len(recs))
		}
		recs, _ = l.Query(context.Background(), Filter{Offset: 99})
		if len(recs) != 0 {
			t.Fatalf("offset beyond range: got %d, want 0", len(recs))
		}
	})
}

func TestStats_approvalRate(t *testing.T) {
	l := NewMemory()
	base := time.Now().UTC()
	for i := 0; i < 3; i++ {
		seedDecision(t, l, "org_a", "stripe", true, base.Add(time.Duration(i)*time.Second))
	}
	_, denied := seedDecision(t, l, "org_a", "stripe", false, base.Add(4*time.Second))
	_ = denied
	_, s := seedDecision(t, l, "org_a", "stripe", true, base.Add(5*time.Second))
	if _, err := l.MarkExecuted(context.Background(), s.SealID); err != nil {
		t.Fatalf("MarkExecuted: %v", err)
	}

	stats, err := l.Stats(context.Background(), Filter{OrgID: "org_a"})
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if stats.TotalManifests != 5 || stats.Approved != 4 || stats.Denied != 1 || stats.Executed != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.ApprovalRate != 80.0 {
		t.Errorf("approval rate = %v, want 80.0", stats.ApprovalRate)
	}
}

func TestRate_roundsToTwoDecimals(t *testing.T) {
	cases := []struct {
		approved, total int
		want            float64
	}{
		{0, 0, 0},
		{1, 3, 33.33},
		{2, 3, 66.67},
		{1, 1, 100},
	}
	for _, tc := range cases {
		t.Run(fmt.Sprintf("%d_of_%d", tc.approved, tc.total), func(t *testing.T) {
			if got := rate(tc.approved, tc.total); got != tc.want {
				t.Errorf("rate(%d,%d) = %v, want %v", tc.approved, tc.total, got, tc.want)
			}
		})
	}
}

func TestFilter_normalizeClampsPagination(t *testing.T) {
	f := Filter{Limit: 0, Offset: -5}
	f.normalize()
	if f.Limit != 100 || f.Offset != 0 {
		t.Errorf("normalized = %+v", f)
	}
	f = Filter{Limit: 5000}
	f.normalize()
	if f.Limit != 1000 {
		t.Errorf("limit clamp = %d, want 1000", f.Limit)
	}
}
