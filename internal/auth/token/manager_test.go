package token

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pysugar/food-log-nexus/internal/apperr"
	"github.com/pysugar/food-log-nexus/internal/credentials"
	"github.com/pysugar/food-log-nexus/internal/db"
	"golang.org/x/oauth2"
)

type tokenServer struct {
	*httptest.Server
	calls      atomic.Int32
	grantTypes chan string
}

// newTokenServer fakes the Fitbit token endpoint. handler writes the response
// for each call; grant types are recorded in order.
func newTokenServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, n int32)) *tokenServer {
	t.Helper()
	ts := &tokenServer{grantTypes: make(chan string, 16)}
	ts.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := ts.calls.Add(1)
		if user, pass, ok := r.BasicAuth(); !ok || user != "client-id" || pass != "client-secret" {
			t.Errorf("expected basic client credentials, got %q/%q (ok=%v)", user, pass, ok)
		}
		if err := r.ParseForm(); err != nil {
			t.Errorf("parse form: %v", err)
		}
		ts.grantTypes <- r.PostForm.Get("grant_type")
		w.Header().Set("Content-Type", "application/json")
		handler(w, r, n)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func newTestManager(t *testing.T, tokenURL string) (*Manager, *credentials.Store) {
	t.Helper()
	database, err := db.InitDB(fmt.Sprintf("file:%s?mode=memory&cache=shared", url.PathEscape(t.Name())))
	if err != nil {
		t.Fatalf("init db: %v", err)
	}
	store := credentials.NewStore(database)
	cfg := &oauth2.Config{
		ClientID:     "client-id",
		ClientSecret: "client-secret",
		RedirectURL:  "https://example.com/oauth/fitbit/callback",
		Endpoint: oauth2.Endpoint{
			AuthURL:   "https://www.fitbit.com/oauth2/authorize",
			TokenURL:  tokenURL,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
		Scopes: []string{"nutrition"},
	}
	return NewManager(store, cfg, &http.Client{Timeout: 2 * time.Second}), store
}

func seed(t *testing.T, store *credentials.Store, uid, fitbitUser string) {
	t.Helper()
	_, err := store.Upsert(context.Background(), uid, fitbitUser, credentials.TokenPayload{
		AccessToken:  "stored-access",
		RefreshToken: "stored-refresh",
		ExpiresIn:    3600,
	})
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
}

func TestEnsureFresh_ValidTokenSkipsRefresh(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		t.Error("token endpoint must not be called for a valid token")
	})
	mgr, store := newTestManager(t, ts.URL)
	seed(t, store, "uid-1", "FB1")

	grant, err := mgr.EnsureFresh(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if grant.AccessToken != "stored-access" || grant.ExternalAccountID != "FB1" {
		t.Fatalf("unexpected grant %+v", grant)
	}
	if ts.calls.Load() != 0 {
		t.Fatalf("expected no token calls, got %d", ts.calls.Load())
	}
}

func TestEnsureFresh_ExpiredTokenRefreshes(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		if got := r.PostForm.Get("refresh_token"); got != "stored-refresh" {
			t.Errorf("expected stored refresh token, got %q", got)
		}
		fmt.Fprint(w, `{"access_token":"new-access","refresh_token":"new-refresh","expires_in":28800,"token_type":"Bearer","user_id":"FB1"}`)
	})
	mgr, store := newTestManager(t, ts.URL)
	seed(t, store, "uid-1", "FB1")
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	grant, err := mgr.EnsureFresh(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}
	if grant.AccessToken != "new-access" {
		t.Fatalf("expected refreshed token, got %q", grant.AccessToken)
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("expected 1 token call, got %d", ts.calls.Load())
	}
	if gt := <-ts.grantTypes; gt != "refresh_token" {
		t.Fatalf("expected refresh_token grant, got %q", gt)
	}

	rec, err := store.FindByLocalIdentity(context.Background(), "uid-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.AccessToken != "new-access" || rec.RefreshToken != "new-refresh" {
		t.Fatalf("refreshed tokens not persisted: %+v", rec)
	}
}

// rotatingHandler issues a new token pair per call and rejects refresh
// tokens that were already spent, the way Fitbit does.
func rotatingHandler(t *testing.T, release <-chan struct{}, started chan<- struct{}) func(w http.ResponseWriter, r *http.Request, n int32) {
	var mu sync.Mutex
	valid := "stored-refresh"
	return func(w http.ResponseWriter, r *http.Request, n int32) {
		if started != nil {
			select {
			case started <- struct{}{}:
			default:
			}
		}
		if release != nil {
			<-release
		}
		mu.Lock()
		defer mu.Unlock()
		if got := r.PostForm.Get("refresh_token"); got != valid {
			w.WriteHeader(http.StatusBadRequest)
			fmt.Fprintf(w, `{"errors":[{"errorType":"invalid_grant","message":"Refresh token invalid: %s"}]}`, got)
			return
		}
		valid = fmt.Sprintf("refresh-%d", n)
		fmt.Fprintf(w, `{"access_token":"access-%d","refresh_token":%q,"expires_in":28800,"token_type":"Bearer","user_id":"FB1"}`, n, valid)
	}
}

func TestEnsureFresh_ConcurrentCallersShareOneRefresh(t *testing.T) {
	release := make(chan struct{})
	ts := newTokenServer(t, rotatingHandler(t, release, nil))
	mgr, store := newTestManager(t, ts.URL)
	seed(t, store, "uid-1", "FB1")
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	const callers = 8
	var wg sync.WaitGroup
	tokens := make([]string, callers)
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			grant, err := mgr.EnsureFresh(context.Background(), "uid-1")
			tokens[i], errs[i] = grant.AccessToken, err
		}(i)
	}
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < callers; i++ {
		if errs[i] != nil {
			t.Fatalf("caller %d: %v", i, errs[i])
		}
		if tokens[i] != "access-1" {
			t.Fatalf("caller %d got %q, want access-1", i, tokens[i])
		}
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("expected 1 token call, got %d", ts.calls.Load())
	}
}

func TestRefresh_StaleSnapshotDoesNotReplaySpentToken(t *testing.T) {
	ts := newTokenServer(t, rotatingHandler(t, nil, nil))
	mgr, store := newTestManager(t, ts.URL)
	seed(t, store, "uid-1", "FB1")
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	ctx := context.Background()

	stale, err := store.FindByLocalIdentity(ctx, "uid-1")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if _, err := mgr.EnsureFresh(ctx, "uid-1"); err != nil {
		t.Fatalf("EnsureFresh: %v", err)
	}

	for _, force := range []bool{false, true} {
		access, err := mgr.refresh(ctx, "uid-1", stale, force)
		if err != nil {
			t.Fatalf("refresh with stale snapshot (force=%v): %v", force, err)
		}
		if access != "access-1" {
			t.Fatalf("expected stored access-1, got %q", access)
		}
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("spent refresh token was replayed: %d token calls", ts.calls.Load())
	}
}

func TestEnsureFresh_JoinerSurvivesLeaderCancel(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	ts := newTokenServer(t, rotatingHandler(t, release, started))
	mgr, store := newTestManager(t, ts.URL)
	seed(t, store, "uid-1", "FB1")
	mgr.now = func() time.Time { return time.Now().Add(2 * time.Hour) }

	leaderCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	leaderDone := make(chan struct{})
	go func() {
		defer close(leaderDone)
		mgr.EnsureFresh(leaderCtx, "uid-1")
	}()

	select {
	case <-started:
	case <-time.After(time.Second):
		close(release)
		t.Fatal("leader never reached the token endpoint")
	}

	type result struct {
		grant AccessGrant
		err   error
	}
	joined := make(chan result, 1)
	go func() {
		grant, err := mgr.EnsureFresh(context.Background(), "uid-1")
		joined <- result{grant, err}
	}()
	time.Sleep(50 * time.Millisecond)
	cancel()
	time.Sleep(20 * time.Millisecond)
	close(release)

	res := <-joined
	<-leaderDone
	if res.err != nil {
		t.Fatalf("joiner failed after leader cancel: %v", res.err)
	}
	if res.grant.AccessToken != "access-1" {
		t.Fatalf("expected access-1, got %q", res.grant.AccessToken)
	}
	if ts.calls.Load() != 1 {
		t.Fatalf("expected 1 token call, got %d", ts.calls.Load())
	}
}

func TestEnsureFresh_NoRecord(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {})
	mgr, _ := newTestManager(t, ts.URL)

	_, err := mgr.EnsureFresh(context.Background(), "ghost")
	if !apperr.Is(err, apperr.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if !strings.Contains(apperr.PublicMessage(err), "complete the OAuth flow") {
		t.Fatalf("unexpected message %q", apperr.PublicMessage(err))
	}
}

func TestExchangeThenRefresh_SameExternalAccount(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		switch n {
		case 1:
			if r.PostForm.Get("code") != "auth-code" {
				t.Errorf("expected auth code, got %q", r.PostForm.Get("code"))
			}
			fmt.Fprint(w, `{"access_token":"a1","refresh_token":"r1","expires_in":28800,"user_id":"FB9"}`)
		default:
			// Refresh responses from Fitbit also carry user_id; it must not re-key the record.
			fmt.Fprint(w, `{"access_token":"a2","refresh_token":"r2","expires_in":28800,"user_id":"OTHER"}`)
		}
	})
	mgr, store := newTestManager(t, ts.URL)
	ctx := context.Background()

	payload, err := mgr.Exchange(ctx, "auth-code", "uid-x")
	if err != nil {
		t.Fatalf("Exchange: %v", err)
	}
	if payload.UserID != "FB9" || payload.ExpiresIn != 28800 {
		t.Fatalf("unexpected payload %+v", payload)
	}

	access, err := mgr.Refresh(ctx, "uid-x")
	if err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	if access != "a2" {
		t.Fatalf("expected a2, got %q", access)
	}

	rec, err := store.FindByLocalIdentity(ctx, "uid-x")
	if err != nil {
		t.Fatalf("find: %v", err)
	}
	if rec.ExternalAccountID != "FB9" {
		t.Fatalf("expected record to stay under FB9, got %q", rec.ExternalAccountID)
	}
	if len(rec.LocalIdentities) != 1 || rec.LocalIdentities[0] != "uid-x" {
		t.Fatalf("unexpected identity set %v", rec.LocalIdentities)
	}
	if _, err := store.FindByLocalIdentity(ctx, "OTHER"); err == nil {
		t.Fatal("refresh must not create a second record")
	}
}

func TestExchange_MissingUserID(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		fmt.Fprint(w, `{"access_token":"a1","refresh_token":"r1","expires_in":28800}`)
	})
	mgr, _ := newTestManager(t, ts.URL)

	_, err := mgr.Exchange(context.Background(), "code", "uid")
	if !apperr.Is(err, apperr.KindUpstreamAPI) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestExchange_RemoteFailure(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"errors":[{"errorType":"invalid_grant","message":"Authorization code invalid"}],"success":false}`)
	})
	mgr, _ := newTestManager(t, ts.URL)

	_, err := mgr.Exchange(context.Background(), "bad", "uid")
	if !apperr.Is(err, apperr.KindUpstreamAPI) {
		t.Fatalf("expected upstream error, got %v", err)
	}
	if got := apperr.PublicMessage(err); got != "Failed to exchange code for tokens: Authorization code invalid" {
		t.Fatalf("unexpected message %q", got)
	}
}

func TestRefresh_RemoteFailureCarriesDetail(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "fitbit errors array",
			body: `{"errors":[{"errorType":"invalid_grant","message":"Refresh token invalid"}]}`,
			want: "Fitbit API Refresh Error: Refresh token invalid",
		},
		{
			name: "oauth error description",
			body: `{"error":"invalid_grant","error_description":"token revoked"}`,
			want: "Fitbit API Refresh Error: token revoked",
		},
		{
			name: "no detail",
			body: `{}`,
			want: "Fitbit API Refresh Error: Unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, tt.body)
			})
			mgr, store := newTestManager(t, ts.URL)
			seed(t, store, "uid-1", "FB1")

			_, err := mgr.Refresh(context.Background(), "uid-1")
			if !apperr.Is(err, apperr.KindUpstreamAPI) {
				t.Fatalf("expected upstream error, got %v", err)
			}
			if got := apperr.PublicMessage(err); got != tt.want {
				t.Fatalf("expected %q, got %q", tt.want, got)
			}
		})
	}
}

func TestRefresh_MissingRefreshToken(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {})
	mgr, store := newTestManager(t, ts.URL)
	if _, err := store.Upsert(context.Background(), "uid-1", "FB1", credentials.TokenPayload{AccessToken: "a", ExpiresIn: 10}); err != nil {
		t.Fatalf("seed: %v", err)
	}

	_, err := mgr.Refresh(context.Background(), "uid-1")
	if !apperr.Is(err, apperr.KindAuthentication) {
		t.Fatalf("expected authentication error, got %v", err)
	}
	if ts.calls.Load() != 0 {
		t.Fatal("token endpoint must not be called without a refresh token")
	}
}

func TestRefresh_Timeout(t *testing.T) {
	ts := newTokenServer(t, func(w http.ResponseWriter, r *http.Request, n int32) {
		time.Sleep(300 * time.Millisecond)
	})
	mgr, store := newTestManager(t, ts.URL)
	mgr.httpClient = &http.Client{Timeout: 50 * time.Millisecond}
	seed(t, store, "uid-1", "FB1")

	_, err := mgr.Refresh(context.Background(), "uid-1")
	if !apperr.Is(err, apperr.KindUpstreamAPI) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestAuthCodeURL(t *testing.T) {
	mgr, _ := newTestManager(t, "https://example.com/token")
	u, err := url.Parse(mgr.AuthCodeURL("state-123"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	q := u.Query()
	if q.Get("state") != "state-123" || q.Get("client_id") != "client-id" || q.Get("scope") != "nutrition" {
		t.Fatalf("unexpected auth url query %v", q)
	}
}
