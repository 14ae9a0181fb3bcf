package cluster

import (
	"context"
	"fmt"

	"github.com/hashicorp/consul/api"
)

// ConsulKV Consul KV 客户端的子集，*api.KV 满足该接口.
type ConsulKV interface {
	Get(key string, q *api.QueryOptions) (*api.KVPair, *api.QueryMeta, error)
	CAS(p *api.KVPair, q *api.WriteOptions) (bool, *api.WriteMeta, error)
	DeleteCAS(p *api.KVPair, q *api.WriteOptions) (bool, *api.WriteMeta, error)
}

// ConsulConfig Consul 存储配置.
type ConsulConfig struct {
	// Addr Consul 地址，为空时使用 api.DefaultConfig 的地址.
	Addr string `json:"addr" yaml:"addr" mapstructure:"addr"`
	// Token ACL token.
	Token string `json:"token" yaml:"token" mapstructure:"token"`
	// Prefix 键前缀.
	Prefix string `json:"prefix" yaml:"prefix" mapstructure:"prefix"`
}

// ConsulStore 基于 Consul KV 的存储，版本即 ModifyIndex.
type ConsulStore struct {
	kv     ConsulKV
	prefix string
}

// NewConsulStore 使用 KV 客户端创建存储.
func NewConsulStore(kv ConsulKV, prefix string) (*ConsulStore, error) {
	if kv == nil {
		return nil, ErrNilClient
	}
	return &ConsulStore{kv: kv, prefix: prefix}, nil
}

// DialConsul 根据配置创建 Consul 客户端并返回存储.
func DialConsul(cfg ConsulConfig) (*ConsulStore, error) {
	conf := api.DefaultConfig()
	if cfg.Addr != "" {
		conf.Address = cfg.Addr
	}
	if cfg.Token != "" {
		conf.Token = cfg.Token
	}
	client, err := api.NewClient(conf)
	if err != nil {
		return nil, fmt.Errorf("cluster: 创建 consul 客户端失败: %w", err)
	}
	return NewConsulStore(client.KV(), cfg.Prefix)
}

// Get 实现 Store.
func (s *ConsulStore) Get(ctx context.Context, key string) (*Entry, error) {
	pair, _, err := s.kv.Get(s.prefix+key, (&api.QueryOptions{RequireConsistent: true}).WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("cluster: 读取 %s 失败: %w", key, err)
	}
	if pair == nil {
		return nil, nil
	}
	return &Entry{Key: key, Value: pair.Value, Version: pair.ModifyIndex}, nil
}

// CompareAndSwap 实现 Store，ModifyIndex 为 0 时 Consul 仅在键不存在时写入.
func (s *ConsulStore) CompareAndSwap(ctx context.Context, key string, value []byte, version uint64) (bool, error) {
	ok, _, err := s.kv.CAS(&api.KVPair{Key: s.prefix + key, Value: value, ModifyIndex: version},
		(&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("cluster: 写入 %s 失败: %w", key, err)
	}
	return ok, nil
}

// DeleteCAS 实现 Store.
func (s *ConsulStore) DeleteCAS(ctx context.Context, key string, version uint64) (bool, error) {
	ok, _, err := s.kv.DeleteCAS(&api.KVPair{Key: s.prefix + key, ModifyIndex: version},
		(&api.WriteOptions{}).WithContext(ctx))
	if err != nil {
		return false, fmt.Errorf("cluster: 删除 %s 失败: %w", key, err)
	}
	return ok, nil
}
