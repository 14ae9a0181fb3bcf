package cluster

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"github.com/Tsukikage7/integration-kit/logger"
)

// Config 选主视图配置.
type Config struct {
	// Namespace 选主命名空间，同一命名空间内只有一个 leader.
	Namespace string `json:"namespace" yaml:"namespace" mapstructure:"namespace"`
	// MemberID 成员 ID，为空时自动生成.
	MemberID string `json:"member_id" yaml:"member_id" mapstructure:"member_id"`
	// LeaseTTL 租约有效期.
	LeaseTTL time.Duration `json:"lease_ttl" yaml:"lease_ttl" mapstructure:"lease_ttl"`
	// RenewInterval 续约与抢占的间隔，需小于 LeaseTTL.
	RenewInterval time.Duration `json:"renew_interval" yaml:"renew_interval" mapstructure:"renew_interval"`
}

// ApplyDefaults 应用默认值.
func (c *Config) ApplyDefaults() {
	if c.MemberID == "" {
		c.MemberID = uuid.NewString()
	}
	if c.LeaseTTL == 0 {
		c.LeaseTTL = 15 * time.Second
	}
	if c.RenewInterval == 0 {
		c.RenewInterval = c.LeaseTTL / 3
	}
}

// Validate 验证配置.
func (c *Config) Validate() error {
	if c.Namespace == "" {
		return ErrEmptyNamespace
	}
	if c.LeaseTTL <= 0 || c.RenewInterval <= 0 || c.RenewInterval >= c.LeaseTTL {
		return fmt.Errorf("%w: ttl=%s, renew=%s", ErrInvalidLease, c.LeaseTTL, c.RenewInterval)
	}
	return nil
}

// lease 存储中的租约记录.
type lease struct {
	Leader  string `json:"leader"`
	Expires int64  `json:"expires"`
}

// LeadershipListener 领导权变更回调.
type LeadershipListener func(leader bool)

// View 某个命名空间的选主视图.
//
// 成员通过 CompareAndSwap 抢占租约，leader 定期续约，租约过期后其他成员可接管.
type View struct {
	cfg   Config
	store Store
	log   logger.Logger
	now   func() time.Time

	refreshMu sync.Mutex

	mu          sync.Mutex
	leader      bool
	leaderID    string
	version     uint64
	leaseExpiry time.Time
	listeners   []LeadershipListener

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// ViewOption 视图选项.
type ViewOption func(*View)

// WithLogger 设置日志记录器.
func WithLogger(log logger.Logger) ViewOption {
	return func(v *View) { v.log = log }
}

// WithClock 设置时钟.
func WithClock(now func() time.Time) ViewOption {
	return func(v *View) { v.now = now }
}

// NewView 创建选主视图.
func NewView(store Store, cfg Config, opts ...ViewOption) (*View, error) {
	if store == nil {
		return nil, ErrNilStore
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	v := &View{cfg: cfg, store: store, now: time.Now}
	for _, opt := range opts {
		opt(v)
	}
	v.log = logger.OrNop(v.log)
	return v, nil
}

// Namespace 命名空间.
func (v *View) Namespace() string { return v.cfg.Namespace }

// MemberID 当前成员 ID.
func (v *View) MemberID() string { return v.cfg.MemberID }

// IsLeader 当前成员是否为 leader.
func (v *View) IsLeader() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leader
}

// Leader 最近观察到的 leader ID，未知时为空.
func (v *View) Leader() string {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.leaderID
}

// AddListener 注册领导权变更回调.
func (v *View) AddListener(l LeadershipListener) {
	v.mu.Lock()
	v.listeners = append(v.listeners, l)
	v.mu.Unlock()
}

// Start 立即尝试一次选主，然后在后台按 RenewInterval 续约或抢占.
func (v *View) Start(ctx context.Context) error {
	v.mu.Lock()
	if v.cancel != nil {
		v.mu.Unlock()
		return ErrAlreadyStarted
	}
	loopCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	v.cancel = cancel
	v.mu.Unlock()

	if err := v.Refresh(ctx); err != nil {
		v.log.With(logger.String("namespace", v.cfg.Namespace), logger.Err(err)).Warn("[Cluster] 首次选主失败")
	}

	v.wg.Add(1)
	go v.loop(loopCtx)
	return nil
}

// Stop 停止后台循环，leader 主动释放租约.
func (v *View) Stop(ctx context.Context) error {
	v.mu.Lock()
	cancel := v.cancel
	v.cancel = nil
	leader, version := v.leader, v.version
	v.mu.Unlock()
	if cancel == nil {
		return nil
	}
	cancel()
	v.wg.Wait()

	var err error
	if leader {
		if _, derr := v.store.DeleteCAS(ctx, v.key(), version); derr != nil {
			err = derr
		}
	}
	v.setState(false, "", 0)
	return err
}

func (v *View) loop(ctx context.Context) {
	defer v.wg.Done()
	ticker := time.NewTicker(v.cfg.RenewInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Refresh(ctx); err != nil && !errors.Is(err, context.Canceled) {
				v.log.With(logger.String("namespace", v.cfg.Namespace), logger.Err(err)).Warn("[Cluster] 续约失败")
			}
		}
	}
}

func (v *View) key() string {
	return "leader/" + v.cfg.Namespace
}

// Refresh 执行一轮选主：无租约或租约过期时抢占，持有租约时续约.
//
// 存储出错时 leader 在租约过期前保持身份，过期后放弃.
func (v *View) Refresh(ctx context.Context) error {
	v.refreshMu.Lock()
	defer v.refreshMu.Unlock()

	now := v.now()
	entry, err := v.store.Get(ctx, v.key())
	if err != nil {
		v.expireOnError(now)
		return err
	}

	var current lease
	var version uint64
	if entry != nil {
		version = entry.Version
		if err := sonic.Unmarshal(entry.Value, &current); err != nil {
			return fmt.Errorf("cluster: 解析租约失败: %w", err)
		}
		if current.Leader != v.cfg.MemberID && now.UnixMilli() < current.Expires {
			v.setState(false, current.Leader, 0)
			return nil
		}
	}

	next, err := sonic.Marshal(lease{Leader: v.cfg.MemberID, Expires: now.Add(v.cfg.LeaseTTL).UnixMilli()})
	if err != nil {
		return fmt.Errorf("cluster: 编码租约失败: %w", err)
	}
	ok, err := v.store.CompareAndSwap(ctx, v.key(), next, version)
	if err != nil {
		v.expireOnError(now)
		return err
	}
	if !ok {
		// 并发抢占失败，下一轮再读取新的 leader
		v.setState(false, current.Leader, 0)
		return nil
	}

	v.mu.Lock()
	v.leaseExpiry = now.Add(v.cfg.LeaseTTL)
	v.mu.Unlock()

	// CAS 不返回新版本，重新读取确认租约仍属于自己
	updated, err := v.store.Get(ctx, v.key())
	if err != nil {
		v.expireOnError(now)
		return err
	}
	var mine lease
	if updated == nil || sonic.Unmarshal(updated.Value, &mine) != nil || mine.Leader != v.cfg.MemberID {
		v.setState(false, mine.Leader, 0)
		return nil
	}
	v.setState(true, v.cfg.MemberID, updated.Version)
	return nil
}

func (v *View) expireOnError(now time.Time) {
	v.mu.Lock()
	expired := v.leader && !now.Before(v.leaseExpiry)
	v.mu.Unlock()
	if expired {
		v.setState(false, "", 0)
	}
}

func (v *View) setState(leader bool, leaderID string, version uint64) {
	v.mu.Lock()
	changed := v.leader != leader
	v.leader, v.leaderID, v.version = leader, leaderID, version
	listeners := slices.Clone(v.listeners)
	v.mu.Unlock()

	if !changed {
		return
	}
	if leader {
		v.log.Infof("[Cluster] 成为 leader: namespace=%s, member=%s", v.cfg.Namespace, v.cfg.MemberID)
	} else {
		v.log.Infof("[Cluster] 失去 leader: namespace=%s, member=%s", v.cfg.Namespace, v.cfg.MemberID)
	}
	for _, l := range listeners {
		l(leader)
	}
}
