package blesim

import (
	"bytes"
	"errors"
	"testing"

	"github.com/nerrad567/gray-logic-blemulator/internal/ble"
)

const (
	heartRateService = "0000180d-0000-1000-8000-00805f9b34fb"
	heartRateMeasure = "00002a37-0000-1000-8000-00805f9b34fb"
	clientConfigDesc = "00002902-0000-1000-8000-00805f9b34fb"
)

func TestDecodeError(t *testing.T) {
	tests := []struct {
		name     string
		payload  string
		wantCode ble.ErrorCode
		wantMsg  string
		wantErr  bool
	}{
		{
			name:     "known code with context",
			payload:  `{"errorCode":205,"message":"not connected","deviceId":"AA:BB","serviceUuid":"180D"}`,
			wantCode: ble.DeviceNotConnected,
			wantMsg:  "not connected",
		},
		{
			name:     "unknown code",
			payload:  `{"errorCode":9999}`,
			wantCode: ble.UnknownError,
		},
		{
			name:     "null message",
			payload:  `{"errorCode":2,"message":null}`,
			wantCode: ble.OperationCancelled,
		},
		{
			name:    "missing code",
			payload: `{"message":"no code"}`,
			wantErr: true,
		},
		{
			name:    "not an object",
			payload: `[1,2]`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeError([]byte(tt.payload))
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidPayload) {
					t.Fatalf("DecodeError() error = %v, want ErrInvalidPayload", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeError() error = %v", err)
			}
			if got.Code != tt.wantCode {
				t.Errorf("Code = %v, want %v", got.Code, tt.wantCode)
			}
			if got.Message != tt.wantMsg {
				t.Errorf("Message = %q, want %q", got.Message, tt.wantMsg)
			}
		})
	}
}

func TestDecodeError_NormalisesUUIDs(t *testing.T) {
	got, err := DecodeError([]byte(`{"errorCode":303,"deviceId":"AA:BB","serviceUuid":"180D","characteristicUuid":"2A37"}`))
	if err != nil {
		t.Fatalf("DecodeError() error = %v", err)
	}
	if got.DeviceID != "AA:BB" {
		t.Errorf("DeviceID = %q, want AA:BB", got.DeviceID)
	}
	if got.ServiceUUID != heartRateService {
		t.Errorf("ServiceUUID = %q, want %q", got.ServiceUUID, heartRateService)
	}
	if got.CharacteristicUUID != heartRateMeasure {
		t.Errorf("CharacteristicUUID = %q, want %q", got.CharacteristicUUID, heartRateMeasure)
	}
}

func TestDecodeDevice(t *testing.T) {
	d, err := DecodeDevice([]byte(`{"id":"AA:BB","name":"HRM","rssi":-60,"mtu":185}`))
	if err != nil {
		t.Fatalf("DecodeDevice() error = %v", err)
	}
	if d.ID != "AA:BB" || d.DisplayName() != "HRM" || d.MTU != 185 {
		t.Errorf("DecodeDevice() = %+v", d)
	}
	if d.RSSI == nil || *d.RSSI != -60 {
		t.Errorf("RSSI = %v, want -60", d.RSSI)
	}

	d, err = DecodeDevice([]byte(`{"id":"CC:DD","name":null}`))
	if err != nil {
		t.Fatalf("DecodeDevice() error = %v", err)
	}
	if d.Name != nil || d.MTU != 0 {
		t.Errorf("DecodeDevice() without optional fields = %+v", d)
	}

	if _, err := DecodeDevice([]byte(`{"name":"anonymous"}`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("DecodeDevice() without id error = %v, want ErrInvalidPayload", err)
	}
}

func TestDecodeDevices(t *testing.T) {
	devices, err := DecodeDevices([]byte(`[{"id":"A"},{"id":"B","mtu":23}]`))
	if err != nil {
		t.Fatalf("DecodeDevices() error = %v", err)
	}
	if len(devices) != 2 || devices[0].ID != "A" || devices[1].ID != "B" {
		t.Errorf("DecodeDevices() = %+v", devices)
	}

	devices, err = DecodeDevices([]byte(`null`))
	if err != nil || len(devices) != 0 {
		t.Errorf("DecodeDevices(null) = %v, %v; want empty, nil", devices, err)
	}
}

func TestDecodeScanResult(t *testing.T) {
	payload := `{
		"id": "AA:BB",
		"name": "HRM",
		"rssi": -42,
		"manufacturerData": "AQID",
		"serviceData": {"180D": "BAU="},
		"serviceUuids": ["180D"],
		"localName": "HRM local",
		"txPowerLevel": 4,
		"solicitedServiceUuids": null,
		"overflowServiceUuids": []
	}`

	got, err := DecodeScanResult([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeScanResult() error = %v", err)
	}

	if got.Device.ID != "AA:BB" || got.Device.DisplayName() != "HRM" {
		t.Errorf("Device = %+v", got.Device)
	}
	if got.Device.MTU != ble.MTUNotApplicable {
		t.Errorf("MTU = %d, want %d", got.Device.MTU, ble.MTUNotApplicable)
	}
	if got.IsConnectable {
		t.Error("IsConnectable = true, want false")
	}
	if !bytes.Equal(got.Advertisement.ManufacturerData, []byte{1, 2, 3}) {
		t.Errorf("ManufacturerData = %v, want [1 2 3]", got.Advertisement.ManufacturerData)
	}
	if !bytes.Equal(got.Advertisement.ServiceData[heartRateService], []byte{4, 5}) {
		t.Errorf("ServiceData = %v", got.Advertisement.ServiceData)
	}
	if len(got.Advertisement.ServiceUUIDs) != 1 || got.Advertisement.ServiceUUIDs[0] != heartRateService {
		t.Errorf("ServiceUUIDs = %v", got.Advertisement.ServiceUUIDs)
	}
	if got.Advertisement.TxPowerLevel == nil || *got.Advertisement.TxPowerLevel != 4 {
		t.Errorf("TxPowerLevel = %v, want 4", got.Advertisement.TxPowerLevel)
	}
	if got.Advertisement.SolicitedServiceUUIDs != nil {
		t.Errorf("SolicitedServiceUUIDs = %v, want nil", got.Advertisement.SolicitedServiceUUIDs)
	}
}

func TestDecodeScanResult_LegacyTxPowerKey(t *testing.T) {
	got, err := DecodeScanResult([]byte(`{"id":"AA:BB","txPowerLeveL":-8}`))
	if err != nil {
		t.Fatalf("DecodeScanResult() error = %v", err)
	}
	if got.Advertisement.TxPowerLevel == nil || *got.Advertisement.TxPowerLevel != -8 {
		t.Errorf("TxPowerLevel = %v, want -8", got.Advertisement.TxPowerLevel)
	}
}

func TestDecodeScanResult_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		payload string
	}{
		{"missing id", `{"name":"x"}`},
		{"bad manufacturer data", `{"id":"A","manufacturerData":"!!!"}`},
		{"bad service data", `{"id":"A","serviceData":{"180D":"***"}}`},
		{"not json", `scan`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := DecodeScanResult([]byte(tt.payload)); !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("DecodeScanResult() error = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestDecodeCharacteristicValue(t *testing.T) {
	payload := `{
		"peripheralId": "AA:BB",
		"id": 10,
		"uuid": "2A37",
		"serviceId": 1,
		"serviceUuid": "180D",
		"isReadable": true,
		"isNotifiable": true,
		"isNotifying": true,
		"value": "AEg="
	}`

	ch, err := DecodeCharacteristicValue([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeCharacteristicValue() error = %v", err)
	}
	if ch.ID != 10 || ch.UUID != heartRateMeasure {
		t.Errorf("identity = %d/%s", ch.ID, ch.UUID)
	}
	if ch.ServiceID != 1 || ch.ServiceUUID != heartRateService || ch.DeviceID != "AA:BB" {
		t.Errorf("owner = %d/%s/%s", ch.ServiceID, ch.ServiceUUID, ch.DeviceID)
	}
	if !ch.Properties.IsReadable() || !ch.Properties.IsNotifiable() || ch.Properties.IsWritableWithResponse() {
		t.Errorf("Properties = %08b", ch.Properties)
	}
	if !bytes.Equal(ch.Value, []byte{0x00, 0x48}) {
		t.Errorf("Value = %v", ch.Value)
	}
	if !bytes.Equal(ch.ClientConfigValue(), []byte{0x01}) {
		t.Errorf("ClientConfigValue() = %v, want [1]", ch.ClientConfigValue())
	}
}

func TestDecodeDescriptor(t *testing.T) {
	d, err := DecodeDescriptor([]byte(`{"peripheralId":"AA:BB","id":11,"uuid":"2902","characteristicId":10,"characteristicUuid":"2A37","serviceId":1,"serviceUuid":"180D","value":"AQA="}`))
	if err != nil {
		t.Fatalf("DecodeDescriptor() error = %v", err)
	}
	if d.ID != 11 || d.UUID != clientConfigDesc || d.CharacteristicID != 10 || d.DeviceID != "AA:BB" {
		t.Errorf("DecodeDescriptor() = %+v", d)
	}
	if !bytes.Equal(d.Value, []byte{1, 0}) {
		t.Errorf("Value = %v", d.Value)
	}
}

func TestDecodeDiscovery(t *testing.T) {
	payload := `[{
		"peripheralId": "AA:BB",
		"id": 1,
		"uuid": "180D",
		"characteristics": [{
			"id": 10,
			"uuid": "2A37",
			"isNotifiable": true,
			"descriptors": [{"id": 11, "uuid": "2902", "characteristicId": 10, "peripheralId": "AA:BB"}]
		}]
	}]`

	services, err := DecodeDiscovery([]byte(payload))
	if err != nil {
		t.Fatalf("DecodeDiscovery() error = %v", err)
	}
	if len(services) != 1 {
		t.Fatalf("got %d services, want 1", len(services))
	}
	svc := services[0]
	if svc.Service.ID != 1 || svc.Service.UUID != heartRateService || svc.Service.DeviceID != "AA:BB" {
		t.Errorf("Service = %+v", svc.Service)
	}

	ch, ok := svc.CharacteristicByUUID("2a37")
	if !ok {
		t.Fatal("characteristic 2A37 not found by lower-case short UUID")
	}
	// Nested characteristics inherit their owner from the enclosing service.
	if ch.Characteristic.ServiceID != 1 || ch.Characteristic.ServiceUUID != heartRateService || ch.Characteristic.DeviceID != "AA:BB" {
		t.Errorf("Characteristic owner = %+v", ch.Characteristic)
	}
	if _, ok := ch.DescriptorByUUID("2902"); !ok {
		t.Error("descriptor 2902 not found")
	}

	empty, err := DecodeDiscovery([]byte(`null`))
	if err != nil || len(empty) != 0 {
		t.Errorf("DecodeDiscovery(null) = %v, %v", empty, err)
	}
}

func TestDecodeScalars(t *testing.T) {
	n, err := DecodeInt([]byte(`185`))
	if err != nil || n != 185 {
		t.Errorf("DecodeInt() = %d, %v; want 185", n, err)
	}
	if _, err := DecodeInt([]byte(`"185"`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("DecodeInt(string) error = %v, want ErrInvalidPayload", err)
	}

	b, err := DecodeBool([]byte(`true`))
	if err != nil || !b {
		t.Errorf("DecodeBool() = %v, %v; want true", b, err)
	}
	if _, err := DecodeBool([]byte(`1`)); !errors.Is(err, ErrInvalidPayload) {
		t.Errorf("DecodeBool(1) error = %v, want ErrInvalidPayload", err)
	}
}

func TestReply_Failure(t *testing.T) {
	tests := []struct {
		name     string
		reply    Reply
		wantErr  bool
		wantCode ble.ErrorCode
	}{
		{"value only", Reply{Value: []byte(`1`)}, false, 0},
		{"null error", Reply{Error: []byte(`null`), Value: []byte(`1`)}, false, 0},
		{"engine error", Reply{Error: []byte(`{"errorCode":204}`)}, true, ble.DeviceNotFound},
		{"undecodable error", Reply{Error: []byte(`{"message":"x"}`)}, true, ble.UnknownError},
		{"local failure", localReply("1", ble.NewError(ble.BluetoothManagerDestroyed, "")), true, ble.BluetoothManagerDestroyed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.reply.HasError(); got != tt.wantErr {
				t.Errorf("HasError() = %v, want %v", got, tt.wantErr)
			}
			f := tt.reply.failure()
			if !tt.wantErr {
				if f != nil {
					t.Errorf("failure() = %v, want nil", f)
				}
				return
			}
			if f == nil || f.Code != tt.wantCode {
				t.Errorf("failure() = %v, want code %v", f, tt.wantCode)
			}
		})
	}
}
