package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"github.com/Tsukikage7/integration-kit/converter"
	"github.com/Tsukikage7/integration-kit/exchange"
	"github.com/Tsukikage7/integration-kit/logger"
)

// 消息头名.
const (
	HeaderOperation      = "s3.OPERATION"
	HeaderKey            = "s3.KEY"
	HeaderDestinationKey = "s3.DESTINATION_KEY"
	HeaderPrefix         = "s3.PREFIX"
	HeaderMetadata       = "s3.METADATA"
	HeaderETag           = "s3.ETAG"
	HeaderVersionID      = "s3.VERSION_ID"
	HeaderContentLength  = "s3.CONTENT_LENGTH"
	HeaderLastModified   = "s3.LAST_MODIFIED"
)

// Process 实现 processor.Processor.
func (p *Producer) Process(ctx context.Context, ex *exchange.Exchange) error {
	p.mu.RLock()
	client := p.client
	p.mu.RUnlock()
	if client == nil {
		return ErrProducerNotStarted
	}

	msg := ex.Message()
	op := p.endpoint.cfg.Operation
	if v, ok := msg.Header(HeaderOperation); ok {
		parsed, err := ParseOperation(fmt.Sprint(v))
		if err != nil {
			return err
		}
		op = parsed
	}

	var err error
	switch op {
	case PutObject:
		err = p.putObject(ctx, client, ex)
	case GetObject:
		err = p.getObject(ctx, client, ex)
	case DeleteObject:
		err = p.deleteObject(ctx, client, ex)
	case HeadObject:
		err = p.headObject(ctx, client, ex)
	case CopyObject:
		err = p.copyObject(ctx, client, ex)
	case ListObjects:
		err = p.listObjects(ctx, client, ex)
	}
	if err != nil {
		p.endpoint.Logger().With(
			logger.String("bucket", p.endpoint.bucket),
			logger.String("operation", string(op)),
			logger.Err(err),
		).Error("[S3] 对象操作失败")
		return fmt.Errorf("s3: %s: %w", op, err)
	}
	return nil
}

func (p *Producer) key(msg *exchange.Message, header string) (string, error) {
	if v, ok := msg.Header(header); ok {
		if s := fmt.Sprint(v); s != "" {
			return s, nil
		}
	}
	if header == HeaderKey && p.endpoint.cfg.KeyName != "" {
		return p.endpoint.cfg.KeyName, nil
	}
	return "", ErrEmptyKey
}

func (p *Producer) putObject(ctx context.Context, client Client, ex *exchange.Exchange) error {
	msg := ex.Message()
	key, err := p.key(msg, HeaderKey)
	if err != nil {
		return err
	}
	data, err := converter.To[[]byte](ex.TypeConverter(), msg.Body())
	if err != nil {
		return err
	}
	in := &s3.PutObjectInput{
		Bucket:        aws.String(p.endpoint.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	}
	if ct, ok := msg.Header(exchange.HeaderContentType); ok {
		in.ContentType = aws.String(fmt.Sprint(ct))
	}
	if md, ok := msg.Header(HeaderMetadata); ok {
		in.Metadata, _ = md.(map[string]string)
	}
	out, err := client.PutObject(ctx, in)
	if err != nil {
		return err
	}
	msg.SetHeader(HeaderETag, aws.ToString(out.ETag))
	if out.VersionId != nil {
		msg.SetHeader(HeaderVersionID, aws.ToString(out.VersionId))
	}
	return nil
}

func (p *Producer) getObject(ctx context.Context, client Client, ex *exchange.Exchange) error {
	msg := ex.Message()
	key, err := p.key(msg, HeaderKey)
	if err != nil {
		return err
	}
	out, err := client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(p.endpoint.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return err
	}
	msg.SetBody(data)
	msg.SetHeader(HeaderETag, aws.ToString(out.ETag))
	msg.SetHeader(HeaderContentLength, aws.ToInt64(out.ContentLength))
	if out.ContentType != nil {
		msg.SetHeader(exchange.HeaderContentType, aws.ToString(out.ContentType))
	}
	if out.LastModified != nil {
		msg.SetHeader(HeaderLastModified, aws.ToTime(out.LastModified))
	}
	if len(out.Metadata) > 0 {
		msg.SetHeader(HeaderMetadata, out.Metadata)
	}
	return nil
}

func (p *Producer) deleteObject(ctx context.Context, client Client, ex *exchange.Exchange) error {
	key, err := p.key(ex.Message(), HeaderKey)
	if err != nil {
		return err
	}
	_, err = client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(p.endpoint.bucket),
		Key:    aws.String(key),
	})
	return err
}

func (p *Producer) headObject(ctx context.Context, client Client, ex *exchange.Exchange) error {
	msg := ex.Message()
	key, err := p.key(msg, HeaderKey)
	if err != nil {
		return err
	}
	out, err := client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(p.endpoint.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return err
	}
	msg.SetHeader(HeaderETag, aws.ToString(out.ETag))
	msg.SetHeader(HeaderContentLength, aws.ToInt64(out.ContentLength))
	if out.LastModified != nil {
		msg.SetHeader(HeaderLastModified, aws.ToTime(out.LastModified))
	}
	return nil
}

func (p *Producer) copyObject(ctx context.Context, client Client, ex *exchange.Exchange) error {
	msg := ex.Message()
	src, err := p.key(msg, HeaderKey)
	if err != nil {
		return err
	}
	dst, err := p.key(msg, HeaderDestinationKey)
	if err != nil {
		return err
	}
	out, err := client.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(p.endpoint.bucket),
		CopySource: aws.String(p.endpoint.bucket + "/" + src),
		Key:        aws.String(dst),
	})
	if err != nil {
		return err
	}
	if out.CopyObjectResult != nil {
		msg.SetHeader(HeaderETag, aws.ToString(out.CopyObjectResult.ETag))
	}
	return nil
}

// listObjects 消息体设置为对象键列表，自动翻页.
func (p *Producer) listObjects(ctx context.Context, client Client, ex *exchange.Exchange) error {
	msg := ex.Message()
	prefix := p.endpoint.cfg.Prefix
	if v, ok := msg.Header(HeaderPrefix); ok {
		prefix = fmt.Sprint(v)
	}
	in := &s3.ListObjectsV2Input{Bucket: aws.String(p.endpoint.bucket)}
	if prefix != "" {
		in.Prefix = aws.String(prefix)
	}

	var keys []string
	paginator := s3.NewListObjectsV2Paginator(client, in)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return err
		}
		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))
		}
	}
	msg.SetBody(keys)
	return nil
}
