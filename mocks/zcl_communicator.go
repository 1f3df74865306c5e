package mocks

import (
	"context"

	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zcl/commands/global"
	"github.com/shimmeringbee/zcl/communicator"
	"github.com/shimmeringbee/zigbee"
	"github.com/stretchr/testify/mock"
)

// MockZCLCommunicator stands in for the ZCL communicator of a zigbee provider,
// the datapoint transport only uses matches, requests and reporting.
type MockZCLCommunicator struct {
	mock.Mock
}

func (m *MockZCLCommunicator) RegisterMatch(match communicator.Match) {
	m.Called(match)
}

func (m *MockZCLCommunicator) UnregisterMatch(match communicator.Match) {
	m.Called(match)
}

func (m *MockZCLCommunicator) ProcessIncomingMessage(msg zigbee.NodeIncomingMessageEvent) error {
	return m.Called(msg).Error(0)
}

func (m *MockZCLCommunicator) Request(ctx context.Context, ieee zigbee.IEEEAddress, ack bool, msg zcl.Message) error {
	return m.Called(ctx, ieee, ack, msg).Error(0)
}

func (m *MockZCLCommunicator) RequestResponse(ctx context.Context, ieee zigbee.IEEEAddress, ack bool, msg zcl.Message) (zcl.Message, error) {
	args := m.Called(ctx, ieee, ack, msg)

	reply, _ := args.Get(0).(zcl.Message)
	return reply, args.Error(1)
}

func (m *MockZCLCommunicator) ReadAttributes(ctx context.Context, ieee zigbee.IEEEAddress, ack bool, cluster zigbee.ClusterID, code zigbee.ManufacturerCode, src zigbee.Endpoint, dst zigbee.Endpoint, seq uint8, attributes []zcl.AttributeID) ([]global.ReadAttributeResponseRecord, error) {
	args := m.Called(ctx, ieee, ack, cluster, code, src, dst, seq, attributes)

	records, _ := args.Get(0).([]global.ReadAttributeResponseRecord)
	return records, args.Error(1)
}

func (m *MockZCLCommunicator) WriteAttributes(ctx context.Context, ieee zigbee.IEEEAddress, ack bool, cluster zigbee.ClusterID, code zigbee.ManufacturerCode, src zigbee.Endpoint, dst zigbee.Endpoint, seq uint8, attributes map[zcl.AttributeID]zcl.AttributeDataTypeValue) ([]global.WriteAttributesResponseRecord, error) {
	args := m.Called(ctx, ieee, ack, cluster, code, src, dst, seq, attributes)

	records, _ := args.Get(0).([]global.WriteAttributesResponseRecord)
	return records, args.Error(1)
}

func (m *MockZCLCommunicator) ConfigureReporting(ctx context.Context, ieee zigbee.IEEEAddress, ack bool, cluster zigbee.ClusterID, code zigbee.ManufacturerCode, src zigbee.Endpoint, dst zigbee.Endpoint, seq uint8, attribute zcl.AttributeID, dataType zcl.AttributeDataType, minimum uint16, maximum uint16, change any) error {
	return m.Called(ctx, ieee, ack, cluster, code, src, dst, seq, attribute, dataType, minimum, maximum, change).Error(0)
}

var _ communicator.Communicator = (*MockZCLCommunicator)(nil)
