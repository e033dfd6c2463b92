package mqtt

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/golang/protobuf/proto"
	"github.com/golang/protobuf/ptypes"
	tspb "github.com/golang/protobuf/ptypes/timestamp"
	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/robotalks/sbclink/pkg/sbc/msgs"
	"github.com/robotalks/sbclink/pkg/sbc/wire"
)

// Payloads are protobuf encoded google.protobuf.Struct values. Every
// published payload carries a "time" field.

// Marshal encodes a payload.
func Marshal(s *structpb.Struct) ([]byte, error) {
	return proto.Marshal(s)
}

// Unmarshal decodes a payload.
func Unmarshal(data []byte) (*structpb.Struct, error) {
	s := &structpb.Struct{}
	if err := proto.Unmarshal(data, s); err != nil {
		return nil, err
	}
	return s, nil
}

func timeValue(t time.Time) *structpb.Value {
	ts, err := ptypes.TimestampProto(t)
	if err != nil {
		return structpb.NewNullValue()
	}
	return structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
		"seconds": structpb.NewNumberValue(float64(ts.Seconds)),
		"nanos":   structpb.NewNumberValue(float64(ts.Nanos)),
	}})
}

// TimeOf extracts the "time" field of a payload.
func TimeOf(s *structpb.Struct) (time.Time, error) {
	v := s.GetFields()["time"].GetStructValue()
	if v == nil {
		return time.Time{}, errors.New("missing time")
	}
	return ptypes.Timestamp(&tspb.Timestamp{
		Seconds: int64(v.Fields["seconds"].GetNumberValue()),
		Nanos:   int32(v.Fields["nanos"].GetNumberValue()),
	})
}

func newPayload(now time.Time, fields map[string]interface{}) (*structpb.Struct, error) {
	s, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	s.Fields["time"] = timeValue(now)
	return s, nil
}

// EventPayload builds the payload of an unsolicited firmware message.
func EventPayload(msg msgs.FirmwareMessage, now time.Time) (*structpb.Struct, error) {
	encoded, err := json.Marshal(msg)
	if err != nil {
		return nil, err
	}
	var fields map[string]interface{}
	if err = json.Unmarshal(encoded, &fields); err != nil {
		return nil, err
	}
	return newPayload(now, map[string]interface{}{
		"type":    msg.FirmwareRequest().String(),
		"message": fields,
	})
}

// StatePayload builds the payload of a link state change.
func StatePayload(state string, now time.Time) (*structpb.Struct, error) {
	return newPayload(now, map[string]interface{}{"state": state})
}

// MetaPayload builds the retained description of a bridge.
func MetaPayload(id string, now time.Time) (*structpb.Struct, error) {
	channels := make([]interface{}, 0, wire.NumChannels)
	for _, ch := range wire.Channels() {
		channels = append(channels, ch.String())
	}
	return newPayload(now, map[string]interface{}{
		"id":       id,
		"protocol": float64(wire.ProtocolVersion),
		"channels": channels,
	})
}

// CodeRequest is a code submitted through the bridge.
type CodeRequest struct {
	// ID is echoed in the reply.
	ID   string
	Code *msgs.Code
}

// ParseCodeRequest decodes a code submission:
//
//	{"id": "1", "channel": "http", "letter": "G", "major": 1,
//	 "params": {"X": 10, "F": 3000, "P": "file.g", "S": [1, 2]}}
//
// "major" and "minor" are optional. Numbers are sent as floats unless they
// are integral, strings as strings and lists as float arrays.
func ParseCodeRequest(s *structpb.Struct) (*CodeRequest, error) {
	fields := s.GetFields()
	ch, err := wire.ParseChannel(fields["channel"].GetStringValue())
	if err != nil {
		return nil, err
	}
	letter := fields["letter"].GetStringValue()
	if len(letter) != 1 {
		return nil, errors.Errorf("invalid code letter %q", letter)
	}
	code := &msgs.Code{Channel: ch, Letter: letter[0]}
	if v, ok := fields["major"]; ok {
		code.MajorCode = int32(v.GetNumberValue())
	} else {
		code.Flags |= wire.NoMajorCommandNumber
	}
	if v, ok := fields["minor"]; ok {
		code.MinorCode = int32(v.GetNumberValue())
	} else {
		code.Flags |= wire.NoMinorCommandNumber
	}
	if v, ok := fields["filePosition"]; ok {
		code.FilePosition = uint32(v.GetNumberValue())
		code.Flags |= wire.FilePositionValid
	}
	params := fields["params"].GetStructValue().GetFields()
	for _, l := range sortedKeys(params) {
		if len(l) != 1 {
			return nil, errors.Errorf("invalid parameter letter %q", l)
		}
		val, err := paramValue(params[l])
		if err != nil {
			return nil, errors.Wrapf(err, "parameter %s", l)
		}
		code.Parameters = append(code.Parameters, msgs.CodeParameter{Letter: l[0], Value: val})
	}
	return &CodeRequest{ID: fields["id"].GetStringValue(), Code: code}, nil
}

func paramValue(v *structpb.Value) (msgs.Value, error) {
	switch k := v.GetKind().(type) {
	case *structpb.Value_NumberValue:
		if n := k.NumberValue; n == math.Trunc(n) && n >= math.MinInt32 && n <= math.MaxInt32 {
			return msgs.IntValue(int32(n)), nil
		}
		return msgs.FloatValue(float32(k.NumberValue)), nil
	case *structpb.Value_StringValue:
		return msgs.StringValue(k.StringValue), nil
	case *structpb.Value_ListValue:
		var floats []float32
		for _, elm := range k.ListValue.GetValues() {
			n, ok := elm.GetKind().(*structpb.Value_NumberValue)
			if !ok {
				return msgs.Value{}, errors.New("array of non-numbers")
			}
			floats = append(floats, float32(n.NumberValue))
		}
		return msgs.FloatArrayValue(floats...), nil
	}
	return msgs.Value{}, errors.New("unsupported value")
}

func sortedKeys(m map[string]*structpb.Value) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// ReplyPayload builds the reply of a code request.
func ReplyPayload(req *CodeRequest, text string, err error, now time.Time) (*structpb.Struct, error) {
	fields := map[string]interface{}{
		"id":      req.ID,
		"channel": req.Code.Channel.String(),
		"code":    req.Code.String(),
		"text":    text,
	}
	if err != nil {
		fields["error"] = err.Error()
	}
	return newPayload(now, fields)
}
