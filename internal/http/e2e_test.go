package httpapp

import (
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rankgate/rankgate/internal/client"
	"github.com/rankgate/rankgate/internal/model"
)

// TestEndToEnd drives a real HTTP server through the client package.
func TestEndToEnd(t *testing.T) {
	e := newTestEnv(t, 15)
	ts := httptest.NewServer(e.server)
	t.Cleanup(ts.Close)

	maintainer := client.New(ts.URL, maintainerKey)

	online, err := maintainer.Status()
	if err != nil || !online {
		t.Fatalf("status: online=%v err=%v", online, err)
	}

	tier, err := maintainer.Probe()
	if err != nil {
		t.Fatalf("probe: %v", err)
	}
	if tier != string(model.TierMaintainer) {
		t.Fatalf("expected maintainer tier, got %s", tier)
	}

	roles, err := maintainer.Roles()
	if err != nil {
		t.Fatalf("roles: %v", err)
	}
	if len(roles) != 4 || roles[0].Rank != 0 {
		t.Fatalf("unexpected roles: %+v", roles)
	}

	msg, err := maintainer.Promote("builderman")
	if err != nil {
		t.Fatalf("promote: %v", err)
	}
	if !strings.Contains(msg, "Officer") {
		t.Fatalf("unexpected message: %s", msg)
	}
	if e.api.ranks[42] != 50 {
		t.Fatalf("expected rank 50 applied, got %d", e.api.ranks[42])
	}

	msg, err = maintainer.SetRank("42", 10)
	if err != nil {
		t.Fatalf("setrank: %v", err)
	}
	if !strings.Contains(msg, "Member") {
		t.Fatalf("unexpected message: %s", msg)
	}
}

func TestEndToEndSecondaryApproval(t *testing.T) {
	e := newTestEnv(t, 15)
	ts := httptest.NewServer(e.server)
	t.Cleanup(ts.Close)

	maintainer := client.New(ts.URL, maintainerKey)
	secondary := client.New(ts.URL, secondaryKey)

	// The first secondary call is refused and queued for approval.
	if _, err := secondary.Roles(); err == nil || !strings.Contains(err.Error(), "ip_not_approved") {
		t.Fatalf("expected ip_not_approved, got %v", err)
	}

	pending, err := maintainer.PendingApprovals()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 || pending[0].Kind != model.KindSecondaryLogin {
		t.Fatalf("unexpected pending list: %+v", pending)
	}

	if err := maintainer.Approve(pending[0].IP); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := secondary.Roles(); err != nil {
		t.Fatalf("roles after approval: %v", err)
	}

	// Rejecting afterwards clears any leftover records without side effects.
	if err := maintainer.Reject(pending[0].IP); err != nil {
		t.Fatalf("reject: %v", err)
	}
}

func TestEndToEndMachineKey(t *testing.T) {
	e := newTestEnv(t, 15)
	ts := httptest.NewServer(e.server)
	t.Cleanup(ts.Close)

	machine := client.New(ts.URL, machineKey)

	msg, err := machine.RankChangeByKey("promote", "42", nil)
	if err != nil {
		t.Fatalf("promote by key: %v", err)
	}
	if !strings.Contains(msg, "Officer") {
		t.Fatalf("unexpected message: %s", msg)
	}

	// The machine key is read-only on the POST surface.
	if _, err := machine.Promote("42"); err == nil {
		t.Fatal("expected POST surface to refuse the machine key")
	}
}
