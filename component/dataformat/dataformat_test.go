package dataformat

import (
	"context"
	"testing"

	"github.com/stretchr/testify/suite"

	"github.com/Tsukikage7/integration-kit/component"
	df "github.com/Tsukikage7/integration-kit/dataformat"
	"github.com/Tsukikage7/integration-kit/exchange"
)

// DataFormatComponentTestSuite dataformat 组件测试套件.
type DataFormatComponentTestSuite struct {
	suite.Suite
	comp *Component
}

func TestDataFormatComponentSuite(t *testing.T) {
	suite.Run(t, new(DataFormatComponentTestSuite))
}

func (s *DataFormatComponentTestSuite) SetupTest() {
	s.comp = New()
}

func (s *DataFormatComponentTestSuite) producer(remaining string) component.Producer {
	ep, err := s.comp.CreateEndpoint("dataformat:"+remaining, remaining, component.Parameters{})
	s.Require().NoError(err)
	p, err := ep.(*Endpoint).CreateProducer()
	s.Require().NoError(err)
	return p
}

func (s *DataFormatComponentTestSuite) TestMarshalThenUnmarshal() {
	ex := exchange.New(nil)
	ex.In().SetBody(map[string]any{"k": "v"})

	s.Require().NoError(s.producer("json:marshal").Process(context.Background(), ex))
	s.IsType([]byte{}, ex.Message().Body())

	s.Require().NoError(s.producer("json:unmarshal").Process(context.Background(), ex))
	s.Equal(map[string]any{"k": "v"}, ex.Message().Body())
}

func (s *DataFormatComponentTestSuite) TestRegisteredFormat() {
	s.comp.Register("indented", df.NewJSON(df.WithIndent()))
	ex := exchange.New(nil)
	ex.In().SetBody(map[string]int{"a": 1})

	s.Require().NoError(s.producer("indented:marshal").Process(context.Background(), ex))
	s.Equal("{\n  \"a\": 1\n}", string(ex.Message().Body().([]byte)))
}

func (s *DataFormatComponentTestSuite) TestInvalidURIs() {
	for _, remaining := range []string{"json", ":marshal", "json:encode"} {
		_, err := s.comp.CreateEndpoint("dataformat:"+remaining, remaining, component.Parameters{})
		s.ErrorIs(err, component.ErrInvalidURI, remaining)
	}

	ep, err := s.comp.CreateEndpoint("dataformat:missing:marshal", "missing:marshal", component.Parameters{})
	s.Require().NoError(err)
	_, err = ep.(*Endpoint).CreateProducer()
	s.ErrorIs(err, ErrUnknownDataFormat)
}
