package service

import (
	"context"
	"fmt"
	"testing"
	"time"

	"code.cloudfoundry.org/clock/fakeclock"
	events "github.com/docker/go-events"
	"github.com/martinjgriffiths/nucache/api"
	"github.com/martinjgriffiths/nucache/config"
	"github.com/martinjgriffiths/nucache/datasource"
	"github.com/martinjgriffiths/nucache/datasource/memsource"
	"github.com/martinjgriffiths/nucache/localdb"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fixturePath = "../datasource/memsource/testdata/site.yaml"

func loadFixture(t *testing.T) *memsource.Fixture {
	f, err := memsource.LoadFixtureFile(fixturePath)
	require.NoError(t, err)
	return f
}

func newSource(t *testing.T, f *memsource.Fixture) *memsource.Source {
	src := memsource.New()
	require.NoError(t, src.Seed(context.Background(), f))
	return src
}

func testConfig(t *testing.T) *config.Config {
	cfg := config.Default()
	cfg.CacheDir = t.TempDir()
	return cfg
}

func newService(t *testing.T, cfg *config.Config, src *memsource.Source) *Service {
	s, err := New(cfg, src)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func startService(t *testing.T, cfg *config.Config, src *memsource.Source) *Service {
	s := newService(t, cfg, src)
	require.NoError(t, s.Start(context.Background()))
	return s
}

// dump renders every node of every tree, including drafts.
func dump(t *testing.T, s *Service) []string {
	var lines []string
	for _, kind := range api.Trees {
		snap := s.Store(kind).CreateSnapshot()
		for _, n := range snap.All() {
			lines = append(lines, fmt.Sprintf("%s %d parent=%d type=%d name=%q children=%v",
				kind, n.ID, n.ParentID, n.ContentTypeID(), n.Data(true).Name, n.Children))
		}
		snap.Release()
	}
	return lines
}

func nextCommit(t *testing.T, ch chan events.Event) EventCommit {
	select {
	case ev := <-ch:
		return ev.(EventCommit)
	case <-time.After(5 * time.Second):
		t.Fatal("no commit event")
		return EventCommit{}
	}
}

func TestStartFromSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	s := startService(t, cfg, newSource(t, loadFixture(t)))

	assert.True(t, s.IsReady())
	assert.Equal(t, StateReady, s.State())
	assert.Equal(t, 4, s.Store(api.TreeContent).Count())
	assert.Equal(t, 1, s.Store(api.TreeMedia).Count())
	assert.Equal(t, 2, s.Domains().Count())

	// the load was written through
	for _, kind := range api.Trees {
		assert.True(t, s.trees[kind].localDB.IsValid(ctx), kind.String())
	}

	assert.Equal(t, ErrAlreadyStarted, s.Start(ctx))
}

func TestStartIgnoringLocalDB(t *testing.T) {
	cfg := testConfig(t)
	cfg.IgnoreLocalDB = true
	cfg.CacheDir = ""
	s := startService(t, cfg, newSource(t, loadFixture(t)))

	assert.Nil(t, s.trees[api.TreeContent].localDB)
	assert.Equal(t, 4, s.Store(api.TreeContent).Count())
}

func TestStartFromLocalDB(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	full := startService(t, cfg, newSource(t, loadFixture(t)))
	expected := dump(t, full)
	require.NoError(t, full.Close())

	// a source holding only the types: a warm start must not read nodes
	f := loadFixture(t)
	f.Content, f.Media = nil, nil
	s := startService(t, cfg, newSource(t, f))

	assert.Equal(t, expected, dump(t, s))
	assert.True(t, s.trees[api.TreeContent].localDB.Bound())

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.False(t, st.Consistent())
}

func TestInvalidLocalDBFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, startService(t, cfg, newSource(t, loadFixture(t))).Close())

	db, err := localdb.Open(cfg.CacheDir, api.TreeMedia)
	require.NoError(t, err)
	require.NoError(t, db.Invalidate(ctx))
	require.NoError(t, db.Close())

	// the source changed while the cache was down
	src := newSource(t, loadFixture(t))
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteNode(api.TreeContent, 3)
	}))

	s := startService(t, cfg, src)

	ignoring := testConfig(t)
	ignoring.IgnoreLocalDB = true
	reference := startService(t, ignoring, src)

	assert.Equal(t, dump(t, reference), dump(t, s))
	assert.Nil(t, s.Store(api.TreeContent).CreateSnapshot().Get(3))

	for _, kind := range api.Trees {
		assert.True(t, s.trees[kind].localDB.IsValid(ctx), kind.String())
	}
}

func TestLocalDBAnomalyFallsBackToSource(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, startService(t, cfg, newSource(t, loadFixture(t))).Close())

	// cached nodes reference a type the source no longer has
	src := newSource(t, loadFixture(t))
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteContentType(11)
	}))

	s := startService(t, cfg, src)
	snap := s.Store(api.TreeContent).CreateSnapshot()
	defer snap.Release()
	assert.Equal(t, 1, s.Store(api.TreeContent).Count())
	assert.NotNil(t, snap.Get(1))
	assert.Nil(t, snap.ContentType(11))
}

type failingSource struct {
	datasource.Source
	err error
}

func (f *failingSource) View(ctx context.Context, cb func(datasource.ReadTx) error) error {
	if f.err != nil {
		return f.err
	}
	return f.Source.View(ctx, cb)
}

func TestFailedStartIsTerminal(t *testing.T) {
	ctx := context.Background()
	errUnavailable := errors.New("source unavailable")
	src := &failingSource{Source: newSource(t, loadFixture(t)), err: errUnavailable}
	s, err := New(testConfig(t), src)
	require.NoError(t, err)
	defer s.Close()

	err = s.Start(ctx)
	require.Error(t, err)
	assert.Equal(t, errUnavailable, errors.Cause(err))
	assert.Equal(t, StateFailed, s.State())
	assert.False(t, s.IsReady())

	src.err = nil
	assert.Equal(t, ErrStartFailed, s.Start(ctx))
	assert.Equal(t, StateFailed, s.State())
	_, err = s.CreateSnapshot()
	assert.Equal(t, ErrNotReady, err)

	require.NoError(t, s.Close())
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, ErrClosed, s.Start(ctx))
}

func TestNotReady(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	require.NoError(t, startService(t, cfg, newSource(t, loadFixture(t))).Close())

	s := newService(t, cfg, newSource(t, loadFixture(t)))
	assert.False(t, s.IsReady())

	_, err := s.CreateSnapshot()
	assert.Equal(t, ErrNotReady, err)

	require.True(t, s.trees[api.TreeContent].localDB.IsValid(ctx))
	draft, published, err := s.NotifyContent(ctx, []api.ContentPayload{{ID: 2, ChangeTypes: api.TreeRefreshNode}})
	require.NoError(t, err)
	assert.True(t, draft)
	assert.True(t, published)
	assert.False(t, s.trees[api.TreeContent].localDB.IsValid(ctx))
	assert.True(t, s.trees[api.TreeMedia].localDB.IsValid(ctx))

	changed, err := s.NotifyMedia(ctx, []api.ContentPayload{{ID: 100, ChangeTypes: api.TreeRemove}})
	require.NoError(t, err)
	assert.True(t, changed)
	assert.False(t, s.trees[api.TreeMedia].localDB.IsValid(ctx))

	assert.NoError(t, s.NotifyContentTypes(ctx, []api.ContentTypePayload{{ItemType: "IContentType", ID: 11, ChangeTypes: api.ContentTypeRemove}}))
	assert.NoError(t, s.NotifyDomains(ctx, []api.DomainPayload{{ID: 1, ChangeType: api.DomainRemove}}))

	// the invalidated files force a load from the source
	require.NoError(t, s.Start(ctx))
	assert.Equal(t, 4, s.Store(api.TreeContent).Count())

	require.NoError(t, s.Close())
	assert.Equal(t, ErrClosed, s.Start(ctx))
	_, _, err = s.NotifyContent(ctx, nil)
	assert.Equal(t, ErrClosed, err)
}

func TestNotifyContent(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)
	s.Subscribe(src)

	ch, cancel := s.Watch()
	defer cancel()

	before, err := s.CreateSnapshot()
	require.NoError(t, err)
	defer before.Release()

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		kit, err := tx.GetOne(api.TreeContent, 2)
		require.NoError(t, err)
		kit.Published.Name = "Latest news"
		return tx.SaveNode(api.TreeContent, kit)
	}))
	commit := nextCommit(t, ch)
	assert.Equal(t, "content", commit.Store)
	assert.Equal(t, s.Store(api.TreeContent).Gen(), commit.Gen)

	after, err := s.CreateSnapshot()
	require.NoError(t, err)
	defer after.Release()
	assert.Equal(t, "Latest news", after.Content().GetByID(false, 2).Published.Name)
	assert.Equal(t, "News", before.Content().GetByID(false, 2).Published.Name)

	// moving About under News refreshes the branch
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		kit, err := tx.GetOne(api.TreeContent, 3)
		require.NoError(t, err)
		kit.Node.ParentID = 2
		return tx.SaveNode(api.TreeContent, kit)
	}))
	nextCommit(t, ch)

	moved := s.Store(api.TreeContent).CreateSnapshot()
	defer moved.Release()
	assert.Equal(t, []int{4, 3}, moved.Get(2).Children)
	assert.Equal(t, []int{2}, moved.Get(1).Children)
	assert.Equal(t, "-1,1,2,3", moved.Get(3).Path)

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteNode(api.TreeContent, 2)
	}))
	nextCommit(t, ch)
	assert.Equal(t, 1, s.Store(api.TreeContent).Count())

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Consistent())
}

func TestLocalDBFailureKeepsCacheCurrent(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	src := newSource(t, loadFixture(t))
	s := startService(t, cfg, src)
	s.Subscribe(src)

	db := s.trees[api.TreeContent].localDB
	require.NoError(t, db.Close())

	rename := func(name string) {
		require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
			kit, err := tx.GetOne(api.TreeContent, 2)
			require.NoError(t, err)
			kit.Published.Name = name
			return tx.SaveNode(api.TreeContent, kit)
		}))
	}
	rename("Latest news")

	snap, err := s.CreateSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "Latest news", snap.Content().GetByID(false, 2).Published.Name)
	snap.Release()
	assert.False(t, db.Bound())
	assert.False(t, db.IsValid(ctx))

	rename("Older news")
	snap, err = s.CreateSnapshot()
	require.NoError(t, err)
	assert.Equal(t, "Older news", snap.Content().GetByID(false, 2).Published.Name)
	snap.Release()
	require.NoError(t, s.Close())

	reopened, err := localdb.Open(cfg.CacheDir, api.TreeContent)
	require.NoError(t, err)
	assert.False(t, reopened.IsValid(ctx))
	require.NoError(t, reopened.Close())

	// the next start reloads from the source and rewrites the file
	next := startService(t, cfg, src)
	snap, err = next.CreateSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	assert.Equal(t, "Older news", snap.Content().GetByID(false, 2).Published.Name)
	assert.True(t, next.trees[api.TreeContent].localDB.IsValid(ctx))
}

func TestNotifyContentDirect(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)
	cs := s.Store(api.TreeContent)

	gen := cs.Gen()
	draft, published, err := s.NotifyContent(ctx, []api.ContentPayload{{ID: 42, ChangeTypes: api.TreeRemove}})
	require.NoError(t, err)
	assert.False(t, draft)
	assert.False(t, published)
	assert.Equal(t, gen, cs.Gen())

	// unknown change kinds are ignored
	draft, _, err = s.NotifyContent(ctx, []api.ContentPayload{{ID: 1, ChangeTypes: api.TreeChangeNone}})
	require.NoError(t, err)
	assert.False(t, draft)

	// a refreshed node the source lost is removed
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteNode(api.TreeContent, 4)
	}))
	_, published, err = s.NotifyContent(ctx, []api.ContentPayload{{ID: 4, ChangeTypes: api.TreeRefreshNode}})
	require.NoError(t, err)
	assert.True(t, published)
	assert.Equal(t, 3, cs.Count())

	// so is a refreshed branch
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteNode(api.TreeContent, 2)
	}))
	_, _, err = s.NotifyContent(ctx, []api.ContentPayload{{ID: 2, ChangeTypes: api.TreeRefreshBranch}})
	require.NoError(t, err)
	assert.Equal(t, 2, cs.Count())
}

func TestNotifyContentReloadsOnAnomaly(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		for _, n := range []memsource.FixtureNode{
			{ID: 5, Parent: 2, Sort: 1, Type: 11, Name: "Archive"},
			{ID: 6, Parent: 5, Type: 11, Name: "2020"},
		} {
			kit, err := n.Kit()
			require.NoError(t, err)
			if err := tx.SaveNode(api.TreeContent, kit); err != nil {
				return err
			}
		}
		return nil
	}))

	// node 6 arrives before its parent
	_, published, err := s.NotifyContent(ctx, []api.ContentPayload{{ID: 6, ChangeTypes: api.TreeRefreshNode}})
	require.NoError(t, err)
	assert.True(t, published)

	snap := s.Store(api.TreeContent).CreateSnapshot()
	defer snap.Release()
	assert.Equal(t, 6, s.Store(api.TreeContent).Count())
	assert.Equal(t, []int{6}, snap.Get(5).Children)
}

func TestNotifyRefreshAll(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)
	s.Subscribe(src)

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		kit, err := (memsource.FixtureNode{ID: 101, Type: 20, Name: "Banner"}).Kit()
		require.NoError(t, err)
		if err := tx.SaveNode(api.TreeMedia, kit); err != nil {
			return err
		}
		tx.RefreshAll(api.TreeMedia)
		return nil
	}))

	snap := s.Store(api.TreeMedia).CreateSnapshot()
	defer snap.Release()
	assert.Equal(t, []int{100, 101}, ids(snap.AtRoot()))
	assert.True(t, s.trees[api.TreeMedia].localDB.IsValid(ctx))
}

func TestNotifyMedia(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		kit, err := (memsource.FixtureNode{ID: 101, Parent: 100, Type: 20, Name: "Icon"}).Kit()
		require.NoError(t, err)
		return tx.SaveNode(api.TreeMedia, kit)
	}))
	changed, err := s.NotifyMedia(ctx, []api.ContentPayload{{ID: 101, ChangeTypes: api.TreeRefreshNode}})
	require.NoError(t, err)
	assert.True(t, changed)

	snap, err := s.CreateSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	assert.Equal(t, "Icon", snap.Media().GetByID(false, 101).Published.Name)
	assert.Equal(t, []int{101}, ids(snap.Media().Children(false, 100)))

	// the incremental change reached the local cache
	count, err := s.trees[api.TreeMedia].localDB.Count()
	require.NoError(t, err)
	assert.Equal(t, 2, count)
}

func ids(nodes []*api.Node) []int {
	var ids []int
	for _, n := range nodes {
		ids = append(ids, n.ID)
	}
	return ids
}

func TestNotifyContentTypes(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)
	s.Subscribe(src)

	read := func() *PublishedSnapshot {
		snap, err := s.CreateSnapshot()
		require.NoError(t, err)
		t.Cleanup(snap.Release)
		return snap
	}
	saveType := func(ct *api.ContentType) {
		require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
			return tx.SaveContentType(ct)
		}))
	}

	// main refresh: the nodes are reloaded
	saveType(&api.ContentType{ID: 11, Alias: "article", ItemType: api.TreeContent, DataTypeIDs: []int{101, 102}})
	snap := read()
	assert.Equal(t, []int{101, 102}, snap.Content().ContentType(11).DataTypeIDs)
	assert.Equal(t, []int{101, 102}, snap.Content().GetByID(false, 2).ContentType.DataTypeIDs)

	// other refresh: the nodes are rebound
	key := snap.Content().GetByID(false, 2).Key
	saveType(&api.ContentType{ID: 11, Alias: "post", ItemType: api.TreeContent, DataTypeIDs: []int{101, 102}})
	snap = read()
	assert.Equal(t, "post", snap.Content().GetByID(false, 2).ContentType.Alias)
	assert.Equal(t, key, snap.Content().GetByID(false, 2).Key)

	saveType(&api.ContentType{ID: 12, Alias: "gallery", ItemType: api.TreeContent})
	snap = read()
	assert.Equal(t, "gallery", snap.Content().ContentType(12).Alias)
	assert.Nil(t, snap.Media().ContentType(12))

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		return tx.DeleteContentType(11)
	}))
	snap = read()
	assert.Nil(t, snap.Content().ContentType(11))
	assert.Equal(t, []int{1}, ids(snap.Content().GetAtRoot(true)))
	assert.Empty(t, snap.Content().Children(true, 1))
	assert.Equal(t, 1, s.Store(api.TreeContent).Count())
}

func TestNotifyContentTypesLiveModels(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig(t)
	cfg.LiveModels = true
	src := newSource(t, loadFixture(t))
	s := startService(t, cfg, src)

	content, media := s.Store(api.TreeContent).Gen(), s.Store(api.TreeMedia).Gen()
	require.NoError(t, s.NotifyContentTypes(ctx, []api.ContentTypePayload{
		{ItemType: "IContentType", ID: 11, ChangeTypes: api.ContentTypeRefreshOther},
	}))
	// one batch for the type, one for the reload
	assert.Equal(t, content+2, s.Store(api.TreeContent).Gen())
	assert.Equal(t, media+1, s.Store(api.TreeMedia).Gen())
}

func TestNotifyDataTypes(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)

	content, media := s.Store(api.TreeContent).Gen(), s.Store(api.TreeMedia).Gen()
	require.NoError(t, s.NotifyDataTypes(ctx, []int{200}))
	assert.Equal(t, content, s.Store(api.TreeContent).Gen())
	assert.Equal(t, media+1, s.Store(api.TreeMedia).Gen())

	s.Subscribe(src)
	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		tx.RefreshDataTypes(101)
		return nil
	}))
	assert.Equal(t, content+1, s.Store(api.TreeContent).Gen())
}

func TestNotifyDomains(t *testing.T) {
	ctx := context.Background()
	src := newSource(t, loadFixture(t))
	s := startService(t, testConfig(t), src)
	s.Subscribe(src)

	require.NoError(t, src.Update(ctx, func(tx *memsource.WriteTx) error {
		if err := tx.SaveDomain(&api.Domain{ID: 3, Name: "*.example.com", ContentID: 2, Culture: "en-GB", IsWildcard: true}); err != nil {
			return err
		}
		// no culture: cannot be routed to
		if err := tx.SaveDomain(&api.Domain{ID: 4, Name: "example.org", ContentID: 1}); err != nil {
			return err
		}
		return tx.DeleteDomain(1)
	}))

	snap, err := s.CreateSnapshot()
	require.NoError(t, err)
	defer snap.Release()
	domains := snap.Domains()
	assert.Nil(t, domains.Get(1))
	assert.Nil(t, domains.Get(4))
	assert.Equal(t, "en-GB", domains.Get(3).Culture)
	assert.Len(t, domains.GetAll(false), 1)
	assert.Len(t, domains.GetAll(true), 2)
	assert.Len(t, domains.GetAssigned(2, true), 1)

	require.NoError(t, s.NotifyDomains(ctx, []api.DomainPayload{{ChangeType: api.DomainRefreshAll}}))
	assert.Equal(t, 2, s.Domains().Count())
	// the older snapshot is unaffected
	assert.Len(t, domains.GetAll(true), 2)
	assert.Nil(t, domains.Get(1))
}

func TestPublishedSnapshot(t *testing.T) {
	s := startService(t, testConfig(t), newSource(t, loadFixture(t)))

	snap, err := s.CreateSnapshot()
	require.NoError(t, err)
	content, domains := snap.Content(), snap.Domains()

	assert.Nil(t, content.GetByID(false, 4))
	assert.Equal(t, "Launch", content.GetByID(true, 4).Draft.Name)
	assert.Equal(t, "About", content.GetByID(false, 3).Data(false).Name)
	assert.Equal(t, "About us", content.GetByID(true, 3).Data(true).Name)
	assert.Empty(t, content.Children(false, 2))
	assert.Equal(t, []int{4}, ids(content.Children(true, 2)))
	assert.Equal(t, []int{2, 3}, ids(content.Descendants(false, 1)))
	assert.Equal(t, []int{2, 1}, ids(content.Ancestors(true, 4)))
	assert.True(t, content.HasContent(false))
	assert.True(t, snap.Media().HasContent(false))

	home := content.GetByID(false, 1)
	assert.Equal(t, home, content.GetByKey(false, home.Key))

	assert.Equal(t, 2, domains.GetByName("EXAMPLE.fr").ID)
	assert.Len(t, domains.GetAssigned(1, false), 2)

	assert.Equal(t, "1/news", content.GetRoute(false, 2, domains))
	assert.Equal(t, "1/", content.GetRoute(false, 1, domains))
	assert.Equal(t, "/home/news", content.GetRoute(false, 2, nil))
	assert.Equal(t, "", content.GetRoute(false, 4, domains))

	assert.Equal(t, 2, content.GetByRoute(false, "1/news").ID)
	assert.Equal(t, 1, content.GetByRoute(false, "1/").ID)
	assert.Equal(t, 3, content.GetByRoute(false, "/home/about").ID)
	assert.Equal(t, 1, content.GetByRoute(false, "/").ID)
	assert.Nil(t, content.GetByRoute(false, "1/news/launch"))
	assert.Equal(t, 4, content.GetByRoute(true, "1/news/launch").ID)
	assert.Nil(t, content.GetByRoute(false, "x/news"))

	snap.Release()
	snap.Release()
	assert.Nil(t, content.GetByID(false, 1))
	assert.Equal(t, 0, s.Store(api.TreeContent).SnapCount())
}

func TestStatus(t *testing.T) {
	ctx := context.Background()
	s := startService(t, testConfig(t), newSource(t, loadFixture(t)))

	st, err := s.Status(ctx)
	require.NoError(t, err)
	assert.True(t, st.Consistent())
	require.Len(t, st.Trees, 2)
	assert.Equal(t, 4, st.Trees[0].Items)
	assert.Equal(t, 4, st.Trees[0].SourceItems)
	assert.Contains(t, st.String(), "cache is ready")
	assert.Contains(t, st.String(), "content: 4 items")
	assert.Contains(t, st.String(), "media: 1 item at")
	assert.Contains(t, st.String(), "2 domains; consistent")
}

func TestCollector(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg := testConfig(t)
	cfg.CollectInterval = time.Minute
	src := newSource(t, loadFixture(t))
	s := startService(t, cfg, src)

	for i := 0; i < 3; i++ {
		_, _, err := s.NotifyContent(ctx, []api.ContentPayload{{ID: 2, ChangeTypes: api.TreeRefreshNode}})
		require.NoError(t, err)
	}
	cs := s.Store(api.TreeContent)
	// the load, three versions of node 2 and the empty tree
	require.Equal(t, 5, cs.GenCount())

	clk := fakeclock.NewFakeClock(time.Now())
	done := make(chan struct{})
	go func() {
		s.RunCollector(ctx, clk)
		close(done)
	}()

	clk.WaitForWatcherAndIncrement(time.Minute)
	assert.Eventually(t, func() bool { return cs.GenCount() == 2 }, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("collector did not stop")
	}
}

func TestCollectKeepsPinnedVersions(t *testing.T) {
	ctx := context.Background()
	s := startService(t, testConfig(t), newSource(t, loadFixture(t)))

	snap, err := s.CreateSnapshot()
	require.NoError(t, err)
	_, _, err = s.NotifyContent(ctx, []api.ContentPayload{{ID: 1, ChangeTypes: api.TreeRefreshBranch}})
	require.NoError(t, err)

	s.Collect(ctx)
	assert.Equal(t, "Home", snap.Content().GetByID(false, 1).Published.Name)
	assert.Len(t, snap.Content().Descendants(true, 1), 3)

	snap.Release()
	assert.Greater(t, s.Collect(ctx), 0)
	assert.Equal(t, 1, s.Store(api.TreeContent).GenCount())
}
