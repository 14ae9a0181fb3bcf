package dataformat

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"github.com/Tsukikage7/integration-kit/exchange"
)

// DataFormatTestSuite 数据格式测试套件.
type DataFormatTestSuite struct {
	suite.Suite
	ctx context.Context
}

func TestDataFormatSuite(t *testing.T) {
	suite.Run(t, new(DataFormatTestSuite))
}

func (s *DataFormatTestSuite) SetupTest() {
	s.ctx = context.Background()
}

type order struct {
	ID     string   `json:"id"`
	Amount float64  `json:"amount"`
	Items  []string `json:"items"`
}

func (s *DataFormatTestSuite) TestJSONRoundTrip() {
	ex := exchange.New(nil)
	in := order{ID: "o-1", Amount: 12.5, Items: []string{"a", "b"}}
	ex.In().SetBody(in)

	s.Require().NoError(Marshal(NewJSON()).Process(s.ctx, ex))
	data, ok := ex.Message().Body().([]byte)
	s.Require().True(ok)
	s.JSONEq(`{"id":"o-1","amount":12.5,"items":["a","b"]}`, string(data))
	ct, _ := ex.Message().Header(exchange.HeaderContentType)
	s.Equal("application/json", ct)

	s.Require().NoError(Unmarshal(JSONOf[order]()).Process(s.ctx, ex))
	s.Equal(in, ex.Message().Body())
}

func (s *DataFormatTestSuite) TestJSONGenericUnmarshalFromString() {
	ex := exchange.New(nil)
	ex.In().SetBody(`{"a":1}`)

	s.Require().NoError(Unmarshal(NewJSON()).Process(s.ctx, ex))
	s.Equal(map[string]any{"a": float64(1)}, ex.Message().Body())
}

func (s *DataFormatTestSuite) TestJSONUnmarshalError() {
	ex := exchange.New(nil)
	ex.In().SetBody("{broken")
	err := Unmarshal(JSONOf[order]()).Process(s.ctx, ex)
	s.ErrorIs(err, ErrUnmarshal)
}

func (s *DataFormatTestSuite) TestEnvelopeRoundTripKeepsHeaderTypes() {
	ts := time.Date(2025, 3, 1, 12, 30, 0, 123, time.UTC)
	headers := map[string]any{
		"s":   "text",
		"b":   true,
		"i":   42,
		"i64": int64(1) << 60,
		"u8":  uint8(7),
		"f32": float32(1.25),
		"f64": 3.14159,
		"raw": []byte{0, 1, 2},
		"ts":  ts,
		"d":   1500 * time.Millisecond,
		"nil": nil,
	}

	ex := exchange.New(nil)
	ex.In().SetHeaders(headers)
	body := order{ID: "o-2", Amount: 1, Items: []string{"x"}}
	ex.In().SetBody(body)

	df := NewEnvelope(JSONOf[order]())
	s.Require().NoError(Marshal(df).Process(s.ctx, ex))
	wire, _ := ex.Message().Body().([]byte)

	target := exchange.New(nil)
	target.In().SetBody(wire)
	s.Require().NoError(Unmarshal(df).Process(s.ctx, target))

	s.Equal(body, target.Message().Body())
	got := target.Message().Headers()
	for k, want := range headers {
		if k == "ts" {
			s.True(want.(time.Time).Equal(got[k].(time.Time)))
			continue
		}
		s.Equal(want, got[k], k)
	}
	s.Len(got, len(headers))
}

func (s *DataFormatTestSuite) TestEnvelopeUnsupportedHeader() {
	ex := exchange.New(nil)
	ex.In().SetHeader("bad", struct{}{})
	ex.In().SetBody("x")

	err := Marshal(NewEnvelope(NewJSON())).Process(s.ctx, ex)
	s.ErrorIs(err, ErrUnsupportedHeaderType)
}

func (s *DataFormatTestSuite) TestProtobufBinaryRoundTrip() {
	msg, err := structpb.NewStruct(map[string]any{"name": "widget", "qty": 3})
	s.Require().NoError(err)

	ex := exchange.New(nil)
	ex.In().SetBody(msg)

	df := NewProtobuf(&structpb.Struct{}, ProtoBinary)
	s.Require().NoError(Marshal(df).Process(s.ctx, ex))
	ct, _ := ex.Message().Header(exchange.HeaderContentType)
	s.Equal("application/x-protobuf", ct)

	s.Require().NoError(Unmarshal(df).Process(s.ctx, ex))
	got, ok := ex.Message().Body().(*structpb.Struct)
	s.Require().True(ok)
	s.True(proto.Equal(msg, got))
}

func (s *DataFormatTestSuite) TestProtobufJSON() {
	ex := exchange.New(nil)
	ex.In().SetBody(wrapperspb.String("hello"))

	df := NewProtobuf(&wrapperspb.StringValue{}, ProtoJSON)
	s.Require().NoError(Marshal(df).Process(s.ctx, ex))
	s.Equal(`"hello"`, string(ex.Message().Body().([]byte)))

	s.Require().NoError(Unmarshal(df).Process(s.ctx, ex))
	s.Equal("hello", ex.Message().Body().(*wrapperspb.StringValue).GetValue())
}

func (s *DataFormatTestSuite) TestProtobufRejectsNonProto() {
	ex := exchange.New(nil)
	ex.In().SetBody("plain")
	err := Marshal(NewProtobuf(nil, "")).Process(s.ctx, ex)
	s.ErrorIs(err, ErrNotProtoMessage)
	s.ErrorIs(err, ErrMarshal)
}
