package services

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"onboard-api/models"
	"onboard-api/store"
)

type fakeProvisioner struct {
	mu        sync.Mutex
	fail      error
	delivered []string
}

func (p *fakeProvisioner) Provision(sub *models.Submission) (*models.User, *models.Account, error) {
	if p.fail != nil {
		return nil, nil, p.fail
	}
	user := &models.User{
		Email:        sub.Email,
		Name:         sub.FullName,
		Role:         models.RoleMember,
		PasswordHash: "x",
	}
	acct := &models.Account{Username: sub.Email, InitialSecret: "secret", Role: models.RoleMember}
	return user, acct, nil
}

func (p *fakeProvisioner) Deliver(acct *models.Account) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.delivered = append(p.delivered, acct.Username)
	return nil
}

func newTestService(t *testing.T) (*InviteService, *fakeProvisioner) {
	t.Helper()
	prov := &fakeProvisioner{}
	svc := NewInviteService(store.NewMemory(), prov, nil)
	return svc, prov
}

func validForm() models.SubmitRequest {
	return models.SubmitRequest{
		FullName:  "Jane Doe",
		Email:     "jane@x.com",
		Phone:     "0600000000",
		BirthDate: "1990-01-01",
	}
}

func TestLifecycleIssuedToApproved(t *testing.T) {
	svc, prov := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Issue(ctx, "admin-1", "jane@x.com")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if inv.Status != models.StatusIssued {
		t.Fatalf("new invitation status = %s, want ISSUED", inv.Status)
	}

	view, err := svc.Resolve(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if view.Status != models.StatusIssued {
		t.Fatalf("resolved status = %s, want ISSUED", view.Status)
	}
	if view.TargetEmail != "jane@x.com" {
		t.Fatalf("target_email = %q", view.TargetEmail)
	}

	sub, err := svc.Submit(ctx, inv.Token, validForm())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusPending {
		t.Fatalf("status after submit = %s, want PENDING", view.Status)
	}

	gotInv, acct, err := svc.Approve(ctx, sub.ID)
	if err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if gotInv.Status != models.StatusApproved {
		t.Fatalf("invitation status after approve = %s", gotInv.Status)
	}
	if acct.Role != models.RoleMember || acct.Username != "jane@x.com" {
		t.Fatalf("unexpected account %+v", acct)
	}
	if len(prov.delivered) != 1 {
		t.Fatalf("credentials delivered %d times, want 1", len(prov.delivered))
	}

	// Read-after-write: resolve immediately observes APPROVED.
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusApproved {
		t.Fatalf("status after approve = %s, want APPROVED", view.Status)
	}

	// Retrying the already-won transition reports the conflict.
	if _, _, err := svc.Approve(ctx, sub.ID); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("second approve err = %v, want ErrConflict", err)
	}
}

func TestSubmitConflictRules(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.Issue(ctx, "admin-1", "")
	sub, err := svc.Submit(ctx, inv.Token, validForm())
	if err != nil {
		t.Fatalf("first submit: %v", err)
	}

	// PENDING refuses a duplicate submit.
	if _, err := svc.Submit(ctx, inv.Token, validForm()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("submit on PENDING err = %v, want ErrConflict", err)
	}

	if _, err := svc.Reject(ctx, sub.ID); err != nil {
		t.Fatalf("Reject: %v", err)
	}
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusRejected {
		t.Fatalf("status after reject = %s", view.Status)
	}

	// REJECTED accepts a replacement submission and goes back to PENDING.
	form := validForm()
	form.Phone = "0611111111"
	resub, err := svc.Submit(ctx, inv.Token, form)
	if err != nil {
		t.Fatalf("resubmit after reject: %v", err)
	}
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusPending {
		t.Fatalf("status after resubmit = %s, want PENDING", view.Status)
	}

	// APPROVED is terminal for submissions.
	if _, _, err := svc.Approve(ctx, resub.ID); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	if _, err := svc.Submit(ctx, inv.Token, validForm()); !errors.Is(err, store.ErrConflict) {
		t.Fatalf("submit on APPROVED err = %v, want ErrConflict", err)
	}
}

func TestConcurrentApproveRejectSingleWinner(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.Issue(ctx, "admin-1", "")
	sub, err := svc.Submit(ctx, inv.Token, validForm())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	const writers = 16
	var wg sync.WaitGroup
	results := make(chan string, writers)
	start := make(chan struct{})

	for i := 0; i < writers; i++ {
		wg.Add(1)
		approve := i%2 == 0
		go func() {
			defer wg.Done()
			<-start
			var err error
			if approve {
				_, _, err = svc.Approve(ctx, sub.ID)
			} else {
				_, err = svc.Reject(ctx, sub.ID)
			}
			switch {
			case err == nil && approve:
				results <- models.StatusApproved
			case err == nil:
				results <- models.StatusRejected
			case errors.Is(err, store.ErrConflict):
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	close(start)
	wg.Wait()
	close(results)

	winners := []string{}
	for r := range results {
		winners = append(winners, r)
	}
	if len(winners) != 1 {
		t.Fatalf("got %d winners (%v), want exactly 1", len(winners), winners)
	}

	// Final status matches the winner's intent.
	view, _ := svc.Resolve(ctx, inv.Token)
	if view.Status != winners[0] {
		t.Fatalf("final status %s does not match winner %s", view.Status, winners[0])
	}
}

func TestProvisionFailureLeavesPending(t *testing.T) {
	svc, prov := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.Issue(ctx, "admin-1", "")
	sub, _ := svc.Submit(ctx, inv.Token, validForm())

	prov.fail = errors.New("directory unavailable")
	if _, _, err := svc.Approve(ctx, sub.ID); err == nil {
		t.Fatal("Approve succeeded despite provisioning failure")
	}

	// The transition rolled back: still PENDING, retry works.
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusPending {
		t.Fatalf("status after failed approve = %s, want PENDING", view.Status)
	}

	prov.fail = nil
	if _, _, err := svc.Approve(ctx, sub.ID); err != nil {
		t.Fatalf("retry approve: %v", err)
	}
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusApproved {
		t.Fatalf("status after retry = %s, want APPROVED", view.Status)
	}
}

func TestLazyExpiry(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, err := svc.Issue(ctx, "admin-1", "")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	// Move the clock past the TTL; no sweep runs, expiry is read-time.
	svc.now = func() time.Time { return inv.ExpiresAt.Add(time.Minute) }

	view, err := svc.Resolve(ctx, inv.Token)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if view.Status != models.StatusExpired {
		t.Fatalf("resolved status = %s, want EXPIRED", view.Status)
	}

	if _, err := svc.Submit(ctx, inv.Token, validForm()); !errors.Is(err, ErrExpired) {
		t.Fatalf("submit on expired err = %v, want ErrExpired", err)
	}
}

func TestExpiryBlocksAdminDecisions(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	inv, _ := svc.Issue(ctx, "admin-1", "")
	sub, err := svc.Submit(ctx, inv.Token, validForm())
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// TTL passes while the submission sits PENDING.
	svc.now = func() time.Time { return inv.ExpiresAt.Add(time.Minute) }

	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusExpired {
		t.Fatalf("resolved status = %s, want EXPIRED", view.Status)
	}

	// EXPIRED is terminal: a late admin decision must not resurrect it.
	if _, _, err := svc.Approve(ctx, sub.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("approve on expired err = %v, want ErrExpired", err)
	}
	if _, err := svc.Reject(ctx, sub.ID); !errors.Is(err, ErrExpired) {
		t.Fatalf("reject on expired err = %v, want ErrExpired", err)
	}
	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusExpired {
		t.Fatalf("status after blocked decisions = %s, want EXPIRED", view.Status)
	}
}

func TestDuplicateEmailProvisionIsNotAConflict(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemory()
	svc := NewInviteService(mem, &fakeProvisioner{}, nil)

	// jane@x.com already holds an account.
	err := mem.CreateUser(ctx, &models.User{
		ID:           "u-existing",
		Email:        "jane@x.com",
		Name:         "Jane",
		Role:         models.RoleMember,
		PasswordHash: "x",
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}

	inv, _ := svc.Issue(ctx, "admin-1", "")
	sub, _ := svc.Submit(ctx, inv.Token, validForm())

	_, _, err = svc.Approve(ctx, sub.ID)
	if err == nil {
		t.Fatal("Approve succeeded despite duplicate email")
	}
	// Not the transition-race conflict: the transition rolled back, so 409's
	// re-read advice would loop the admin forever.
	if errors.Is(err, store.ErrConflict) {
		t.Fatalf("duplicate email mapped to ErrConflict: %v", err)
	}

	if view, _ := svc.Resolve(ctx, inv.Token); view.Status != models.StatusPending {
		t.Fatalf("status after failed provision = %s, want PENDING", view.Status)
	}

	// Reject still works, which is the admin's way out.
	if _, err := svc.Reject(ctx, sub.ID); err != nil {
		t.Fatalf("Reject after failed provision: %v", err)
	}
}

func TestTokensAreUnique(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		inv, err := svc.Issue(ctx, "admin-1", "")
		if err != nil {
			t.Fatalf("Issue: %v", err)
		}
		if seen[inv.Token] {
			t.Fatalf("duplicate token %q", inv.Token)
		}
		seen[inv.Token] = true
	}
}

func TestResolveUnknownToken(t *testing.T) {
	svc, _ := newTestService(t)
	if _, err := svc.Resolve(context.Background(), "no-such-token"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestListSubmissionsFilter(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	invA, _ := svc.Issue(ctx, "admin-1", "")
	subA, _ := svc.Submit(ctx, invA.Token, validForm())

	invB, _ := svc.Issue(ctx, "admin-1", "")
	formB := validForm()
	formB.Email = "john@x.com"
	if _, err := svc.Submit(ctx, invB.Token, formB); err != nil {
		t.Fatalf("Submit B: %v", err)
	}

	if _, _, err := svc.Approve(ctx, subA.ID); err != nil {
		t.Fatalf("Approve A: %v", err)
	}

	pending, err := svc.ListSubmissions(ctx, models.StatusPending)
	if err != nil {
		t.Fatalf("ListSubmissions: %v", err)
	}
	if len(pending) != 1 || pending[0].Email != "john@x.com" {
		t.Fatalf("pending = %+v, want only john@x.com", pending)
	}

	approved, _ := svc.ListSubmissions(ctx, models.StatusApproved)
	if len(approved) != 1 || approved[0].Email != "jane@x.com" {
		t.Fatalf("approved = %+v, want only jane@x.com", approved)
	}

	all, _ := svc.ListSubmissions(ctx, "")
	if len(all) != 2 {
		t.Fatalf("all = %d rows, want 2", len(all))
	}
}
