package refresh

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"country-api/internal/cache"
	"country-api/internal/reconcile"
	"country-api/internal/render"
	"country-api/internal/source"
)

const countriesBody = `[
  {"name":"Nigeria","capital":"Abuja","region":"Africa","population":206139589,"currencies":[{"code":"NGN"}]},
  {"name":"Ghana","capital":"Accra","region":"Africa","population":31072940,"currencies":[{"code":"GHS"}]},
  {"name":"Atlantis","region":"Mythical","population":1000,"currencies":[{"code":"ATL"}]}
]`

const ratesBody = `{"result":"success","rates":{"NGN":1600.5,"GHS":15.3}}`

type fakePersister struct {
	saved []cache.Country
	at    time.Time
	err   error
	calls int
}

func (p *fakePersister) SaveSnapshot(ctx context.Context, entities []cache.Country, at time.Time) error {
	p.calls++
	if p.err != nil {
		return p.err
	}
	p.saved = entities
	p.at = at
	return nil
}

func serveBody(body string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(body))
	}))
}

func newOrchestrator(t *testing.T, p Persister) *Orchestrator {
	t.Helper()
	return &Orchestrator{
		Cache:     cache.New(),
		Store:     p,
		Images:    &render.Holder{},
		ImagePath: filepath.Join(t.TempDir(), "summary.png"),
	}
}

func TestRefreshSuccess(t *testing.T) {
	cs := serveBody(countriesBody)
	defer cs.Close()
	rs := serveBody(ratesBody)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	p := &fakePersister{}
	o := newOrchestrator(t, p)

	total, at, err := o.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	assert.False(t, at.IsZero())
	assert.Len(t, p.saved, 3)

	count, refreshedAt := o.Cache.Status()
	assert.Equal(t, 3, count)
	require.NotNil(t, refreshedAt)
	assert.Equal(t, at, *refreshedAt)

	// 缺汇率的国家保留且估值为空
	e, err := o.Cache.Get("atlantis")
	require.NoError(t, err)
	assert.Nil(t, e.EstimatedGDP)

	// 汇总图已渲染
	assert.NotEmpty(t, o.Images.Get())
}

func TestRefreshUpstreamOutageLeavesCacheUntouched(t *testing.T) {
	cs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer cs.Close()
	rs := serveBody(ratesBody)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	p := &fakePersister{}
	o := newOrchestrator(t, p)
	before := time.Now()
	o.Cache.Replace([]cache.Country{{Name: "Old"}}, before)

	_, _, err := o.Refresh(context.Background())
	var ue *source.UpstreamError
	require.ErrorAs(t, err, &ue)
	assert.Equal(t, source.SourceCountries, ue.Source)
	assert.Zero(t, p.calls)

	count, at := o.Cache.Status()
	assert.Equal(t, 1, count)
	require.NotNil(t, at)
	assert.Equal(t, before, *at)
}

func TestRefreshStructuralFailureLeavesCacheUntouched(t *testing.T) {
	cs := serveBody(countriesBody)
	defer cs.Close()
	rs := serveBody(`[]`)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	p := &fakePersister{}
	o := newOrchestrator(t, p)
	o.Cache.Replace([]cache.Country{{Name: "Old"}}, time.Now())

	_, _, err := o.Refresh(context.Background())
	assert.ErrorIs(t, err, reconcile.ErrUnusablePayload)
	assert.Zero(t, p.calls)
	count, _ := o.Cache.Status()
	assert.Equal(t, 1, count)
}

func TestRefreshPersistFailureLeavesCacheUntouched(t *testing.T) {
	cs := serveBody(countriesBody)
	defer cs.Close()
	rs := serveBody(ratesBody)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	p := &fakePersister{err: errors.New("db down")}
	o := newOrchestrator(t, p)
	o.Cache.Replace([]cache.Country{{Name: "Old"}}, time.Now())

	_, _, err := o.Refresh(context.Background())
	require.Error(t, err)
	count, _ := o.Cache.Status()
	assert.Equal(t, 1, count)
}

func TestRefreshRejectsConcurrentInvocation(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	cs := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		close(entered)
		<-release
		_, _ = w.Write([]byte(countriesBody))
	}))
	defer cs.Close()
	rs := serveBody(ratesBody)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	o := newOrchestrator(t, &fakePersister{})
	done := make(chan error, 1)
	go func() {
		_, _, err := o.Refresh(context.Background())
		done <- err
	}()
	<-entered

	_, _, err := o.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrInFlight)

	close(release)
	require.NoError(t, <-done)
}

// 相同上游数据两次刷新产出一致快照（时间戳除外）
func TestRefreshIdempotent(t *testing.T) {
	cs := serveBody(countriesBody)
	defer cs.Close()
	rs := serveBody(ratesBody)
	defer rs.Close()
	t.Setenv("COUNTRIES_URL", cs.URL)
	t.Setenv("RATES_URL", rs.URL)

	o := newOrchestrator(t, &fakePersister{})
	_, _, err := o.Refresh(context.Background())
	require.NoError(t, err)
	first := append([]cache.Country(nil), o.Cache.Snapshot()...)

	_, _, err = o.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, o.Cache.Snapshot())
}
