package zcltransport

import (
	"github.com/shimmeringbee/zcl"
	"github.com/shimmeringbee/zigbee"
)

// ClusterID is the manufacturer specific Tuya datapoint cluster.
const ClusterID = zigbee.ClusterID(0xef00)

const (
	DataRequestID  zcl.CommandIdentifier = 0x00
	DataResponseID zcl.CommandIdentifier = 0x01
	DataReportID   zcl.CommandIdentifier = 0x02
	DataQueryID    zcl.CommandIdentifier = 0x03
)

// DataRequest writes datapoints to the device, Payload holds the encoded
// records.
type DataRequest struct {
	Sequence uint16 `bcendian:"big"`
	Payload  []byte
}

// DataResponse is sent by the device in answer to a DataRequest or DataQuery.
type DataResponse struct {
	Sequence uint16 `bcendian:"big"`
	Payload  []byte
}

// DataReport is sent unsolicited by the device when a datapoint changes.
type DataReport struct {
	Sequence uint16 `bcendian:"big"`
	Payload  []byte
}

// DataQuery asks the device to report its datapoints. An empty Payload asks
// for all of them, otherwise it holds the ids of the datapoints wanted.
type DataQuery struct {
	Payload []byte
}

func Register(cr *zcl.CommandRegistry) {
	cr.RegisterLocal(ClusterID, zigbee.NoManufacturer, zcl.ClientToServer, DataRequestID, &DataRequest{})
	cr.RegisterLocal(ClusterID, zigbee.NoManufacturer, zcl.ServerToClient, DataResponseID, &DataResponse{})
	cr.RegisterLocal(ClusterID, zigbee.NoManufacturer, zcl.ServerToClient, DataReportID, &DataReport{})
	cr.RegisterLocal(ClusterID, zigbee.NoManufacturer, zcl.ClientToServer, DataQueryID, &DataQuery{})
}
