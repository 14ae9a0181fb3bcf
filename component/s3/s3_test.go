package s3

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	"github.com/Tsukikage7/integration-kit/exchange"
)

var errNoSuchKey = errors.New("NoSuchKey")

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
}

// memoryClient 内存实现的 Client.
type memoryClient struct {
	mu      sync.Mutex
	objects map[string]object
}

func newMemoryClient() *memoryClient {
	return &memoryClient{objects: make(map[string]object)}
}

func (m *memoryClient) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.ToString(in.Key)] = object{data: data, contentType: aws.ToString(in.ContentType), metadata: in.Metadata}
	return &s3.PutObjectOutput{ETag: aws.String("etag-" + aws.ToString(in.Key))}, nil
}

func (m *memoryClient) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.data)),
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   aws.String(obj.contentType),
		ETag:          aws.String("etag-" + aws.ToString(in.Key)),
		Metadata:      obj.metadata,
	}, nil
}

func (m *memoryClient) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func (m *memoryClient) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, errNoSuchKey
	}
	return &s3.HeadObjectOutput{ContentLength: aws.Int64(int64(len(obj.data))), ETag: aws.String("etag")}, nil
}

func (m *memoryClient) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, src, _ := strings.Cut(aws.ToString(in.CopySource), "/")
	obj, ok := m.objects[src]
	if !ok {
		return nil, errNoSuchKey
	}
	m.objects[aws.ToString(in.Key)] = obj
	return &s3.CopyObjectOutput{CopyObjectResult: &types.CopyObjectResult{ETag: aws.String("copied")}}, nil
}

func (m *memoryClient) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, aws.ToString(in.Prefix)) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	for _, k := range keys {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	return out, nil
}

// S3TestSuite s3 组件测试套件.
type S3TestSuite struct {
	suite.Suite
	ctx    context.Context
	client *memoryClient
	comp   *Component
}

func TestS3Suite(t *testing.T) {
	suite.Run(t, new(S3TestSuite))
}

func (s *S3TestSuite) SetupTest() {
	s.ctx = context.Background()
	s.client = newMemoryClient()
	s.comp = New(WithClient(s.client))
}

func (s *S3TestSuite) producer(params component.Parameters) component.Producer {
	ep, err := s.comp.CreateEndpoint("s3:reports", "reports", params)
	s.Require().NoError(err)
	p, err := ep.(*Endpoint).CreateProducer()
	s.Require().NoError(err)
	s.Require().NoError(component.StartService(s.ctx, p))
	return p
}

func (s *S3TestSuite) send(p component.Producer, op Operation, headers map[string]any, body any) *exchange.Exchange {
	ex := exchange.New(nil)
	ex.In().SetHeaders(headers)
	ex.In().SetHeader(HeaderOperation, string(op))
	ex.In().SetBody(body)
	s.Require().NoError(p.Process(s.ctx, ex))
	return ex
}

func (s *S3TestSuite) TestCreateEndpointValidation() {
	_, err := s.comp.CreateEndpoint("s3:", "", component.Parameters{})
	s.ErrorIs(err, ErrEmptyBucket)

	_, err = s.comp.CreateEndpoint("s3:b", "b", component.Parameters{"operation": "explode"})
	s.ErrorIs(err, component.ErrInvalidParameter)
	s.ErrorIs(err, ErrInvalidOperation)

	ep, err := s.comp.CreateEndpoint("s3:b", "b", component.Parameters{"operation": "GETOBJECT", "usePathStyle": "true"})
	s.Require().NoError(err)
	s.Equal(GetObject, ep.(*Endpoint).Config().Operation)
	s.Equal(component.CanProduce, component.Capabilities(ep))
}

func (s *S3TestSuite) TestObjectLifecycle() {
	p := s.producer(component.Parameters{})

	put := s.send(p, PutObject, map[string]any{
		HeaderKey:                  "2025/report.csv",
		exchange.HeaderContentType: "text/csv",
		HeaderMetadata:             map[string]string{"owner": "ops"},
	}, "a,b\n1,2\n")
	etag, _ := put.Message().Header(HeaderETag)
	s.Equal("etag-2025/report.csv", etag)

	get := s.send(p, GetObject, map[string]any{HeaderKey: "2025/report.csv"}, nil)
	s.Equal([]byte("a,b\n1,2\n"), get.Message().Body())
	ct, _ := get.Message().Header(exchange.HeaderContentType)
	s.Equal("text/csv", ct)
	md, _ := get.Message().Header(HeaderMetadata)
	s.Equal(map[string]string{"owner": "ops"}, md)

	s.send(p, CopyObject, map[string]any{HeaderKey: "2025/report.csv", HeaderDestinationKey: "archive/report.csv"}, nil)
	head := s.send(p, HeadObject, map[string]any{HeaderKey: "archive/report.csv"}, nil)
	size, _ := head.Message().Header(HeaderContentLength)
	s.Equal(int64(8), size)

	list := s.send(p, ListObjects, map[string]any{}, nil)
	s.Equal([]string{"2025/report.csv", "archive/report.csv"}, list.Message().Body())

	s.send(p, DeleteObject, map[string]any{HeaderKey: "2025/report.csv"}, nil)
	list = s.send(p, ListObjects, map[string]any{HeaderPrefix: "2025/"}, nil)
	s.Empty(list.Message().Body())
}

func (s *S3TestSuite) TestDefaultKeyAndErrors() {
	p := s.producer(component.Parameters{"keyName": "fixed.txt"})
	s.send(p, PutObject, map[string]any{}, []byte("x"))
	s.Contains(s.client.objects, "fixed.txt")

	missing := s.producer(component.Parameters{})
	ex := exchange.New(nil)
	ex.In().SetBody("x")
	s.ErrorIs(missing.Process(s.ctx, ex), ErrEmptyKey)

	ex = exchange.New(nil)
	ex.In().SetHeader(HeaderOperation, string(GetObject))
	ex.In().SetHeader(HeaderKey, "nope")
	s.ErrorIs(missing.Process(s.ctx, ex), errNoSuchKey)
}

func (s *S3TestSuite) TestNotStarted() {
	ep, _ := s.comp.CreateEndpoint("s3:b", "b", component.Parameters{})
	p, _ := ep.(*Endpoint).CreateProducer()
	s.ErrorIs(p.Process(s.ctx, exchange.New(nil)), ErrProducerNotStarted)
}
