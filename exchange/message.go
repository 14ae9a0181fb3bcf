package exchange

import (
	"maps"

	"github.com/google/uuid"

	"github.com/Tsukikage7/integration-kit/converter"
)

// Attachment 消息附件.
type Attachment struct {
	ContentType string
	Data        []byte
	Headers     map[string]string
}

// Message 消息，由所属 Exchange 独占.
//
// 头部键区分大小写.
type Message struct {
	id          string
	body        any
	headers     map[string]any
	attachments map[string]*Attachment
	exchange    *Exchange
}

// NewMessage 创建空消息.
func NewMessage() *Message {
	return &Message{headers: make(map[string]any)}
}

// MessageID 返回消息 ID，首次访问时生成.
func (m *Message) MessageID() string {
	if m.id == "" {
		m.id = uuid.NewString()
	}
	return m.id
}

// SetMessageID 设置消息 ID.
func (m *Message) SetMessageID(id string) {
	m.id = id
}

// Exchange 返回所属 Exchange，可能为 nil.
func (m *Message) Exchange() *Exchange {
	return m.exchange
}

// Body 返回消息体.
func (m *Message) Body() any {
	return m.body
}

// SetBody 设置消息体.
func (m *Message) SetBody(body any) {
	m.body = body
}

// Header 返回头部值.
func (m *Message) Header(key string) (any, bool) {
	v, ok := m.headers[key]
	return v, ok
}

// SetHeader 设置头部.
func (m *Message) SetHeader(key string, value any) {
	if m.headers == nil {
		m.headers = make(map[string]any)
	}
	m.headers[key] = value
}

// RemoveHeader 删除头部，返回旧值.
func (m *Message) RemoveHeader(key string) (any, bool) {
	v, ok := m.headers[key]
	delete(m.headers, key)
	return v, ok
}

// Headers 返回头部映射本身，修改会直接作用于消息.
func (m *Message) Headers() map[string]any {
	if m.headers == nil {
		m.headers = make(map[string]any)
	}
	return m.headers
}

// SetHeaders 替换全部头部.
func (m *Message) SetHeaders(headers map[string]any) {
	m.headers = maps.Clone(headers)
	if m.headers == nil {
		m.headers = make(map[string]any)
	}
}

// HasHeaders 是否存在头部.
func (m *Message) HasHeaders() bool {
	return len(m.headers) > 0
}

// Attachment 返回附件.
func (m *Message) Attachment(name string) (*Attachment, bool) {
	a, ok := m.attachments[name]
	return a, ok
}

// AddAttachment 添加附件.
func (m *Message) AddAttachment(name string, a *Attachment) {
	if m.attachments == nil {
		m.attachments = make(map[string]*Attachment)
	}
	m.attachments[name] = a
}

// RemoveAttachment 删除附件.
func (m *Message) RemoveAttachment(name string) {
	delete(m.attachments, name)
}

// AttachmentNames 返回所有附件名.
func (m *Message) AttachmentNames() []string {
	names := make([]string, 0, len(m.attachments))
	for name := range m.attachments {
		names = append(names, name)
	}
	return names
}

// Copy 复制消息：头部与附件映射浅拷贝，消息体引用共享.
func (m *Message) Copy() *Message {
	return &Message{
		id:          m.id,
		body:        m.body,
		headers:     maps.Clone(m.Headers()),
		attachments: maps.Clone(m.attachments),
	}
}

// typeConverter 返回消息可用的转换注册表.
func (m *Message) typeConverter() *converter.Registry {
	if m.exchange != nil {
		return m.exchange.TypeConverter()
	}
	return defaultConverter()
}

// BodyAs 将消息体转换为 T.
func BodyAs[T any](m *Message) (T, error) {
	return converter.To[T](m.typeConverter(), m.body)
}

// HeaderAs 将头部值转换为 T，头部不存在时 ok 为 false.
func HeaderAs[T any](m *Message, key string) (value T, ok bool, err error) {
	raw, exists := m.headers[key]
	if !exists {
		return value, false, nil
	}
	value, err = converter.To[T](m.typeConverter(), raw)
	return value, true, err
}
