package cluster

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hashicorp/consul/api"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/component/direct"
	"github.com/Tsukikage7/integration-kit/route"
)

// fakeKV 模拟 Consul KV 的 CAS 语义.
type fakeKV struct {
	mu    sync.Mutex
	pairs map[string]*api.KVPair
	index uint64
	err   error
}

func newFakeKV() *fakeKV {
	return &fakeKV{pairs: make(map[string]*api.KVPair)}
}

func (f *fakeKV) Get(key string, _ *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, nil, f.err
	}
	p, ok := f.pairs[key]
	if !ok {
		return nil, &api.QueryMeta{}, nil
	}
	cp := *p
	return &cp, &api.QueryMeta{}, nil
}

func (f *fakeKV) CAS(p *api.KVPair, _ *api.WriteOptions) (bool, *api.WriteMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return false, nil, f.err
	}
	cur, ok := f.pairs[p.Key]
	if (p.ModifyIndex == 0 && ok) || (p.ModifyIndex != 0 && (!ok || cur.ModifyIndex != p.ModifyIndex)) {
		return false, &api.WriteMeta{}, nil
	}
	f.index++
	f.pairs[p.Key] = &api.KVPair{Key: p.Key, Value: p.Value, ModifyIndex: f.index}
	return true, &api.WriteMeta{}, nil
}

func (f *fakeKV) DeleteCAS(p *api.KVPair, _ *api.WriteOptions) (bool, *api.WriteMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	cur, ok := f.pairs[p.Key]
	if !ok || cur.ModifyIndex != p.ModifyIndex {
		return false, &api.WriteMeta{}, nil
	}
	delete(f.pairs, p.Key)
	return true, &api.WriteMeta{}, nil
}

// clock 可手动推进的时钟.
type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// ClusterTestSuite 集群选主测试套件.
type ClusterTestSuite struct {
	suite.Suite
	ctx   context.Context
	clock *clock
}

func TestClusterSuite(t *testing.T) {
	suite.Run(t, new(ClusterTestSuite))
}

func (s *ClusterTestSuite) SetupTest() {
	s.ctx = context.Background()
	s.clock = &clock{now: time.Unix(1_700_000_000, 0)}
}

func (s *ClusterTestSuite) newView(store Store, member string) *View {
	v, err := NewView(store, Config{
		Namespace:     "orders",
		MemberID:      member,
		LeaseTTL:      10 * time.Second,
		RenewInterval: time.Hour,
	}, WithClock(s.clock.Now))
	s.Require().NoError(err)
	return v
}

func (s *ClusterTestSuite) stores() map[string]func() Store {
	return map[string]func() Store{
		"memory": func() Store { return NewMemoryStore() },
		"consul": func() Store {
			st, err := NewConsulStore(newFakeKV(), "integration/")
			s.Require().NoError(err)
			return st
		},
	}
}

func (s *ClusterTestSuite) TestStoreCompareAndSwap() {
	for name, newStore := range s.stores() {
		s.Run(name, func() {
			st := newStore()
			ok, err := st.CompareAndSwap(s.ctx, "k", []byte("a"), 0)
			s.Require().NoError(err)
			s.True(ok)

			ok, err = st.CompareAndSwap(s.ctx, "k", []byte("b"), 0)
			s.Require().NoError(err)
			s.False(ok, "create-only write must fail when the key exists")

			e, err := st.Get(s.ctx, "k")
			s.Require().NoError(err)
			s.Equal([]byte("a"), e.Value)

			ok, err = st.CompareAndSwap(s.ctx, "k", []byte("c"), e.Version+100)
			s.Require().NoError(err)
			s.False(ok)

			ok, err = st.CompareAndSwap(s.ctx, "k", []byte("c"), e.Version)
			s.Require().NoError(err)
			s.True(ok)

			ok, err = st.DeleteCAS(s.ctx, "k", e.Version)
			s.Require().NoError(err)
			s.False(ok, "stale version must not delete")

			e2, err := st.Get(s.ctx, "k")
			s.Require().NoError(err)
			ok, err = st.DeleteCAS(s.ctx, "k", e2.Version)
			s.Require().NoError(err)
			s.True(ok)

			e3, err := st.Get(s.ctx, "missing")
			s.NoError(err)
			s.Nil(e3)
		})
	}
}

func (s *ClusterTestSuite) TestConsulStorePrefixAndErrors() {
	kv := newFakeKV()
	st, err := NewConsulStore(kv, "integration/")
	s.Require().NoError(err)
	_, err = st.CompareAndSwap(s.ctx, "leader/x", []byte("v"), 0)
	s.Require().NoError(err)
	s.Contains(kv.pairs, "integration/leader/x")

	kv.err = errors.New("consul down")
	_, err = st.Get(s.ctx, "leader/x")
	s.ErrorContains(err, "consul down")

	_, err = NewConsulStore(nil, "")
	s.ErrorIs(err, ErrNilClient)
}

func (s *ClusterTestSuite) TestConfigValidation() {
	_, err := NewView(nil, Config{Namespace: "n"})
	s.ErrorIs(err, ErrNilStore)
	_, err = NewView(NewMemoryStore(), Config{})
	s.ErrorIs(err, ErrEmptyNamespace)
	_, err = NewView(NewMemoryStore(), Config{Namespace: "n", LeaseTTL: time.Second, RenewInterval: time.Second})
	s.ErrorIs(err, ErrInvalidLease)

	v, err := NewView(NewMemoryStore(), Config{Namespace: "n"})
	s.Require().NoError(err)
	s.NotEmpty(v.MemberID())
}

func (s *ClusterTestSuite) TestLeaderElection() {
	for name, newStore := range s.stores() {
		s.Run(name, func() {
			st := newStore()
			a, b := s.newView(st, "a"), s.newView(st, "b")

			s.Require().NoError(a.Refresh(s.ctx))
			s.Require().NoError(b.Refresh(s.ctx))
			s.True(a.IsLeader())
			s.False(b.IsLeader())
			s.Equal("a", b.Leader())

			// 续约后 b 仍无法接管
			s.clock.Advance(6 * time.Second)
			s.Require().NoError(a.Refresh(s.ctx))
			s.clock.Advance(6 * time.Second)
			s.Require().NoError(b.Refresh(s.ctx))
			s.True(a.IsLeader())
			s.False(b.IsLeader())

			// a 停止续约，租约过期后 b 接管，a 下一轮发现失去领导权
			s.clock.Advance(11 * time.Second)
			s.Require().NoError(b.Refresh(s.ctx))
			s.True(b.IsLeader())
			s.Require().NoError(a.Refresh(s.ctx))
			s.False(a.IsLeader())
			s.Equal("b", a.Leader())
		})
	}
}

func (s *ClusterTestSuite) TestConcurrentCandidatesElectOneLeader() {
	st := NewMemoryStore()
	views := make([]*View, 8)
	for i := range views {
		views[i] = s.newView(st, string(rune('a'+i)))
	}
	var wg sync.WaitGroup
	for _, v := range views {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.NoError(v.Refresh(s.ctx))
		}()
	}
	wg.Wait()

	leaders := 0
	for _, v := range views {
		if v.IsLeader() {
			leaders++
		}
	}
	s.Equal(1, leaders)
}

func (s *ClusterTestSuite) TestStopReleasesLease() {
	st := NewMemoryStore()
	a, b := s.newView(st, "a"), s.newView(st, "b")

	var changes []bool
	a.AddListener(func(leader bool) { changes = append(changes, leader) })

	s.Require().NoError(a.Start(s.ctx))
	s.ErrorIs(a.Start(s.ctx), ErrAlreadyStarted)
	s.True(a.IsLeader())
	s.Require().NoError(a.Stop(s.ctx))
	s.False(a.IsLeader())
	s.Equal([]bool{true, false}, changes)

	s.Require().NoError(b.Refresh(s.ctx))
	s.True(b.IsLeader(), "released lease is acquired without waiting for expiry")
}

func (s *ClusterTestSuite) TestLeaderStepsDownWhenStoreUnreachable() {
	kv := newFakeKV()
	st, err := NewConsulStore(kv, "")
	s.Require().NoError(err)
	a := s.newView(st, "a")
	s.Require().NoError(a.Refresh(s.ctx))
	s.True(a.IsLeader())

	kv.mu.Lock()
	kv.err = errors.New("timeout")
	kv.mu.Unlock()

	s.Error(a.Refresh(s.ctx))
	s.True(a.IsLeader(), "lease still valid")

	s.clock.Advance(11 * time.Second)
	s.Error(a.Refresh(s.ctx))
	s.False(a.IsLeader())
}

func (s *ClusterTestSuite) TestRoutePolicyFollowsLeadership() {
	st := NewMemoryStore()
	a, b := s.newView(st, "a"), s.newView(st, "b")
	s.Require().NoError(b.Refresh(s.ctx))

	var leadershipEvents atomic.Int32
	a.AddListener(func(bool) { leadershipEvents.Add(1) })
	policy, err := NewRoutePolicy(a, nil)
	s.Require().NoError(err)

	comp := direct.New()
	ep, err := comp.CreateEndpoint("direct:orders", "orders", component.Parameters{})
	s.Require().NoError(err)
	r, err := route.New("orders", []component.Endpoint{ep}, nil, route.WithPolicies(policy))
	s.Require().NoError(err)

	s.Require().NoError(r.Start(s.ctx))
	s.Equal(route.Suspended, r.Status(), "follower keeps consumers gated")
	s.Equal([]string{"orders"}, policy.Routes())

	// b 的租约过期，a 接管后路由恢复
	s.clock.Advance(11 * time.Second)
	s.Require().NoError(a.Refresh(s.ctx))
	s.Equal(route.Started, r.Status())

	// b 在 a 停止续约后重新接管，a 的路由暂停
	s.clock.Advance(11 * time.Second)
	s.Require().NoError(b.Refresh(s.ctx))
	s.Require().NoError(a.Refresh(s.ctx))
	s.Equal(route.Suspended, r.Status())
	s.Equal(int32(2), leadershipEvents.Load())

	_, err = NewRoutePolicy(nil, nil)
	s.ErrorIs(err, ErrNilView)
}
