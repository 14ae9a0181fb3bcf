// Package s3 提供基于 aws-sdk-go-v2 的对象存储生产者端点.
//
// 路径部分为桶名，operation 决定对当前消息执行的对象操作，兼容 MinIO 等 S3 协议存储.
//
//	s3:reports?operation=putObject&region=us-east-1&endpoint=http://localhost:9000&usePathStyle=true
package s3

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Tsukikage7/integration-kit/component"
)

// Scheme 组件 scheme.
const Scheme = "s3"

// 预定义错误.
var (
	// ErrEmptyBucket 桶名为空.
	ErrEmptyBucket = errors.New("s3: 桶名不能为空")

	// ErrEmptyKey 对象键为空.
	ErrEmptyKey = errors.New("s3: 对象键不能为空")

	// ErrInvalidOperation 操作无效.
	ErrInvalidOperation = errors.New("s3: 操作无效")

	// ErrCreateClient 创建客户端失败.
	ErrCreateClient = errors.New("s3: 创建客户端失败")

	// ErrProducerNotStarted 生产者未启动.
	ErrProducerNotStarted = errors.New("s3: 生产者未启动")
)

// Operation 对象操作.
type Operation string

// Operation 取值.
const (
	PutObject    Operation = "putObject"
	GetObject    Operation = "getObject"
	DeleteObject Operation = "deleteObject"
	HeadObject   Operation = "headObject"
	CopyObject   Operation = "copyObject"
	ListObjects  Operation = "listObjects"
)

// ParseOperation 解析操作名，大小写不敏感.
func ParseOperation(s string) (Operation, error) {
	for _, op := range []Operation{PutObject, GetObject, DeleteObject, HeadObject, CopyObject, ListObjects} {
		if strings.EqualFold(s, string(op)) {
			return op, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidOperation, s)
}

// Client 组件使用的 S3 操作，*s3.Client 实现了该接口.
type Client interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	ListObjectsV2(ctx context.Context, in *s3.ListObjectsV2Input, optFns ...func(*s3.Options)) (*s3.ListObjectsV2Output, error)
}

// Config 端点配置.
type Config struct {
	// Operation 默认操作，可被 s3.OPERATION 头覆盖.
	Operation Operation
	// Region 区域.
	Region string
	// Endpoint 自定义服务地址，为空时使用 AWS 默认地址.
	Endpoint string
	// AccessKey 访问密钥，为空时使用默认凭证链.
	AccessKey string
	// SecretKey 秘密密钥.
	SecretKey string
	// UsePathStyle 使用路径风格（MinIO 需要）.
	UsePathStyle bool
	// KeyName 默认对象键，可被 s3.KEY 头覆盖.
	KeyName string
	// Prefix listObjects 的默认前缀.
	Prefix string
	// MaxRetries 最大重试次数.
	MaxRetries int
}

// DefaultConfig 返回默认配置.
func DefaultConfig() Config {
	return Config{
		Operation:  PutObject,
		Region:     "us-east-1",
		MaxRetries: 3,
	}
}

// Option 组件选项.
type Option func(*Component)

// WithClient 所有端点共用给定客户端，不再按端点配置创建.
func WithClient(c Client) Option {
	return func(comp *Component) {
		comp.client = c
	}
}

// Component s3 组件.
type Component struct {
	client Client
}

// New 创建 s3 组件.
func New(opts ...Option) *Component {
	c := &Component{}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// CreateEndpoint 实现 component.Component.
func (c *Component) CreateEndpoint(uri, remaining string, params component.Parameters) (component.Endpoint, error) {
	if remaining == "" {
		return nil, &component.ResolveEndpointError{URI: uri, Err: ErrEmptyBucket}
	}
	cfg := DefaultConfig()
	err := component.NewBinder().
		Func("operation", func(v any) error {
			op, err := ParseOperation(fmt.Sprint(v))
			if err == nil {
				cfg.Operation = op
			}
			return err
		}).
		String("region", &cfg.Region).
		String("endpoint", &cfg.Endpoint).
		String("accessKey", &cfg.AccessKey).
		String("secretKey", &cfg.SecretKey).
		Bool("usePathStyle", &cfg.UsePathStyle).
		String("keyName", &cfg.KeyName).
		String("prefix", &cfg.Prefix).
		Int("maxRetries", &cfg.MaxRetries).
		Bind(params)
	if err != nil {
		return nil, err
	}
	return &Endpoint{
		EndpointBase: component.NewEndpointBase(uri),
		comp:         c,
		bucket:       remaining,
		cfg:          cfg,
	}, nil
}

// Endpoint s3 端点.
type Endpoint struct {
	component.EndpointBase
	comp   *Component
	bucket string
	cfg    Config
}

// Bucket 返回桶名.
func (e *Endpoint) Bucket() string {
	return e.bucket
}

// Config 返回端点配置.
func (e *Endpoint) Config() Config {
	return e.cfg
}

// CreateProducer 实现 component.ProducerCapable.
func (e *Endpoint) CreateProducer() (component.Producer, error) {
	return &Producer{endpoint: e}, nil
}

// newClient 按端点配置创建 S3 客户端.
func (e *Endpoint) newClient(ctx context.Context) (Client, error) {
	if e.comp.client != nil {
		return e.comp.client, nil
	}
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(e.cfg.Region),
		awsconfig.WithRetryMaxAttempts(e.cfg.MaxRetries),
	}
	if e.cfg.AccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(e.cfg.AccessKey, e.cfg.SecretKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, errors.Join(ErrCreateClient, err)
	}
	return s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		o.UsePathStyle = e.cfg.UsePathStyle
		if e.cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(e.cfg.Endpoint)
		}
	}), nil
}

// Producer s3 生产者.
type Producer struct {
	endpoint *Endpoint

	mu     sync.RWMutex
	client Client
}

// Endpoint 实现 component.Producer.
func (p *Producer) Endpoint() component.Endpoint {
	return p.endpoint
}

// Start 创建客户端，不发起网络请求.
func (p *Producer) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.client != nil {
		return nil
	}
	client, err := p.endpoint.newClient(ctx)
	if err != nil {
		return err
	}
	p.client = client
	return nil
}

// Stop 释放客户端.
func (p *Producer) Stop(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.client = nil
	return nil
}
