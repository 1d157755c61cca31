package flows

import (
	"bytes"
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/gatekeep/clock"
	"github.com/MrEthical07/gatekeep/refresh"
	"github.com/MrEthical07/gatekeep/token"
)

type flowFixture struct {
	clock    *clock.Manual
	store    *refresh.MemoryStore
	codec    *token.Codec
	issuer   *token.Issuer
	verifier *token.Verifier
}

func newFlowFixture(t *testing.T) *flowFixture {
	t.Helper()

	clk := clock.NewManual(time.Unix(1_700_000_000, 0))
	store := refresh.NewMemoryStore(clk)
	codec, err := token.NewCodec(token.Config{
		SigningMethod: token.MethodHS256,
		PrivateKey:    bytes.Repeat([]byte("f"), 32),
	})
	if err != nil {
		t.Fatalf("codec: %v", err)
	}
	issuer, err := token.NewIssuer(codec, store, clk, 15*time.Minute, 24*time.Hour)
	if err != nil {
		t.Fatalf("issuer: %v", err)
	}
	return &flowFixture{
		clock:    clk,
		store:    store,
		codec:    codec,
		issuer:   issuer,
		verifier: token.NewVerifier(codec, clk, 0),
	}
}

func (f *flowFixture) loginDeps() LoginDeps {
	return LoginDeps{
		KnownRole:    func(role string) bool { return role == "user" || role == "admin" },
		IssueAccess:  f.issuer.IssueAccessClaims,
		IssueRefresh: f.issuer.IssueRefresh,
		RefreshTTL:   24 * time.Hour,
	}
}

func (f *flowFixture) refreshDeps() RefreshDeps {
	return RefreshDeps{
		VerifyRefresh: func(s string) (token.Claims, error) {
			return f.verifier.Verify(s, token.KindRefresh)
		},
		PrepareRefresh: f.issuer.PrepareRefresh,
		IssueAccess:    f.issuer.IssueAccessClaims,
		Store:          f.store,
	}
}

func (f *flowFixture) logoutDeps() LogoutDeps {
	return LogoutDeps{DecodeRefresh: f.codec.Decode, Store: f.store}
}

func (f *flowFixture) login(t *testing.T, subject string) LoginResult {
	t.Helper()
	res := RunLogin(context.Background(), subject, "user", f.loginDeps())
	if res.Failure != LoginFailureNone {
		t.Fatalf("login failed: %d %v", res.Failure, res.Err)
	}
	return res
}

func TestRunLoginIssuesPair(t *testing.T) {
	f := newFlowFixture(t)
	res := f.login(t, "u1")

	if res.AccessToken == "" || res.RefreshToken == "" || res.RefreshTokenID == "" {
		t.Fatalf("incomplete login result: %+v", res)
	}
	now := f.clock.Now()
	if !res.AccessExpiresAt.Equal(now.Add(15 * time.Minute)) {
		t.Fatalf("unexpected access expiry %v", res.AccessExpiresAt)
	}
	if !res.RefreshExpiresAt.Equal(now.Add(24 * time.Hour)) {
		t.Fatalf("unexpected refresh expiry %v", res.RefreshExpiresAt)
	}

	rec, err := f.store.Get(context.Background(), res.RefreshTokenID)
	if err != nil {
		t.Fatalf("record not stored: %v", err)
	}
	if rec.State != refresh.StateActive || rec.Subject != "u1" {
		t.Fatalf("unexpected record %+v", rec)
	}
}

func TestRunLoginRejectsBadInput(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	if res := RunLogin(ctx, "", "user", f.loginDeps()); res.Failure != LoginFailureInvalidRequest {
		t.Fatalf("expected invalid request, got %d", res.Failure)
	}
	if res := RunLogin(ctx, "u1", "root", f.loginDeps()); res.Failure != LoginFailureUnknownRole {
		t.Fatalf("expected unknown role, got %d", res.Failure)
	}
	if f.store.Len() != 0 {
		t.Fatalf("rejected logins must not create records, have %d", f.store.Len())
	}
}

func TestRunLoginPropagatesIssueErrors(t *testing.T) {
	f := newFlowFixture(t)
	boom := errors.New("boom")

	deps := f.loginDeps()
	deps.IssueRefresh = func(context.Context, string, string) (string, string, error) {
		return "", "", boom
	}
	res := RunLogin(context.Background(), "u1", "user", deps)
	if res.Failure != LoginFailureIssueRefresh || !errors.Is(res.Err, boom) {
		t.Fatalf("expected issue refresh failure, got %d %v", res.Failure, res.Err)
	}
}

func TestRunRefreshRotates(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	login := f.login(t, "u1")

	res := RunRefresh(ctx, login.RefreshToken, f.refreshDeps())
	if res.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %d %v", res.Failure, res.Err)
	}
	if res.TokenID != login.RefreshTokenID || res.SuccessorID == "" {
		t.Fatalf("unexpected ids %+v", res)
	}

	old, err := f.store.Get(ctx, login.RefreshTokenID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if old.State != refresh.StateRotated || old.SuccessorID != res.SuccessorID {
		t.Fatalf("presented record not rotated: %+v", old)
	}

	claims, err := f.verifier.Verify(res.RefreshToken, token.KindRefresh)
	if err != nil {
		t.Fatalf("successor token: %v", err)
	}
	if claims.TokenID != res.SuccessorID {
		t.Fatalf("successor token id %q, want %q", claims.TokenID, res.SuccessorID)
	}
}

func TestRunRefreshReplayRevokesLineage(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	login := f.login(t, "u1")

	first := RunRefresh(ctx, login.RefreshToken, f.refreshDeps())
	if first.Failure != RefreshFailureNone {
		t.Fatalf("refresh failed: %v", first.Err)
	}

	replay := RunRefresh(ctx, login.RefreshToken, f.refreshDeps())
	if replay.Failure != RefreshFailureReplay {
		t.Fatalf("expected replay, got %d %v", replay.Failure, replay.Err)
	}

	next := RunRefresh(ctx, first.RefreshToken, f.refreshDeps())
	if next.Failure != RefreshFailureRevoked {
		t.Fatalf("successor should be revoked after replay, got %d", next.Failure)
	}
}

func TestRunRefreshFailureKinds(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()

	if res := RunRefresh(ctx, "not-a-token", f.refreshDeps()); res.Failure != RefreshFailureDecode {
		t.Fatalf("expected decode failure, got %d", res.Failure)
	}

	login := f.login(t, "u1")
	if res := RunRefresh(ctx, login.AccessToken, f.refreshDeps()); res.Failure != RefreshFailureDecode || !errors.Is(res.Err, token.ErrWrongKind) {
		t.Fatalf("expected wrong kind, got %d %v", res.Failure, res.Err)
	}

	if res := RunRotateByID(ctx, "missing", f.refreshDeps()); res.Failure != RefreshFailureNotFound {
		t.Fatalf("expected not found, got %d", res.Failure)
	}

	if _, err := f.store.RevokeSubject(ctx, "u1"); err != nil {
		t.Fatalf("revoke subject: %v", err)
	}
	if res := RunRotateByID(ctx, login.RefreshTokenID, f.refreshDeps()); res.Failure != RefreshFailureRevoked {
		t.Fatalf("expected revoked, got %d", res.Failure)
	}
}

func TestRunRotateByIDUsesStoredIdentity(t *testing.T) {
	f := newFlowFixture(t)
	login := f.login(t, "u9")

	res := RunRotateByID(context.Background(), login.RefreshTokenID, f.refreshDeps())
	if res.Failure != RefreshFailureNone {
		t.Fatalf("rotate failed: %v", res.Err)
	}
	if res.Subject != "u9" || res.Role != "user" {
		t.Fatalf("unexpected identity %q/%q", res.Subject, res.Role)
	}
}

func TestRunLogoutIsIdempotent(t *testing.T) {
	f := newFlowFixture(t)
	ctx := context.Background()
	login := f.login(t, "u1")

	res := RunLogout(ctx, login.RefreshToken, f.logoutDeps())
	if res.Err != nil || res.Missing {
		t.Fatalf("first logout: %+v", res)
	}
	rec, err := f.store.Get(ctx, login.RefreshTokenID)
	if err != nil || rec.State != refresh.StateRevoked {
		t.Fatalf("record not revoked: %+v %v", rec, err)
	}

	again := RunLogout(ctx, login.RefreshToken, f.logoutDeps())
	if again.Err != nil {
		t.Fatalf("second logout must succeed: %v", again.Err)
	}
}

func TestRunLogoutRejectsAccessToken(t *testing.T) {
	f := newFlowFixture(t)
	login := f.login(t, "u1")

	res := RunLogout(context.Background(), login.AccessToken, f.logoutDeps())
	if !errors.Is(res.Err, token.ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", res.Err)
	}
}

func TestRunLogoutAll(t *testing.T) {
	f := newFlowFixture(t)
	f.login(t, "u1")
	f.login(t, "u1")
	f.login(t, "u2")

	n, err := RunLogoutAll(context.Background(), "u1", f.logoutDeps())
	if err != nil {
		t.Fatalf("logout all: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 revoked, got %d", n)
	}
}
