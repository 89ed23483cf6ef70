package signaling

import (
	"encoding/json"
	"errors"
)

const (
	fieldType          = "type"
	fieldSDP           = "sdp"
	fieldCandidate     = "candidate"
	fieldSDPMid        = "sdpMid"
	fieldSDPMLineIndex = "sdpMLineIndex"
)

type descriptionEnvelope struct {
	Type MessageType `json:"type"`
	SDP  string      `json:"sdp"`
}

type candidateEnvelope struct {
	Type          MessageType `json:"type"`
	Candidate     string      `json:"candidate"`
	SDPMid        string      `json:"sdpMid"`
	SDPMLineIndex int         `json:"sdpMLineIndex"`
}

type typeEnvelope struct {
	Type MessageType `json:"type"`
}

// Decode parses a single JSON envelope. Every failure is a *DecodeError.
func Decode(data []byte) (Message, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, &DecodeError{Kind: KindMalformed, Err: err}
	}

	// "null" decodes into a nil map without error
	if fields == nil {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("envelope is not an object")}
	}

	var tag string
	if err := stringField(fields, fieldType, &tag); err != nil {
		return nil, err
	}

	var msg Message

	switch MessageType(tag) {
	case MessageTypeOffer:
		var sdp string
		if err := stringField(fields, fieldSDP, &sdp); err != nil {
			return nil, err
		}
		msg = Offer{SDP: sdp}

	case MessageTypeAnswer:
		var sdp string
		if err := stringField(fields, fieldSDP, &sdp); err != nil {
			return nil, err
		}
		msg = Answer{SDP: sdp}

	case MessageTypeICECandidate:
		var c ICECandidate
		if err := stringField(fields, fieldCandidate, &c.Candidate); err != nil {
			return nil, err
		}
		if err := stringField(fields, fieldSDPMid, &c.SDPMid); err != nil {
			return nil, err
		}
		if err := intField(fields, fieldSDPMLineIndex, &c.SDPMLineIndex); err != nil {
			return nil, err
		}
		msg = c

	case MessageTypeEndOfCandidates:
		msg = EndOfCandidates{}

	default:
		return nil, UnknownVariant(tag)
	}

	if err := validate(msg); err != nil {
		return nil, err
	}

	return msg, nil
}

// Encode serializes msg. Messages that Decode would reject are refused, so a
// successful Encode always round-trips.
func Encode(msg Message) ([]byte, error) {
	if msg == nil {
		return nil, &DecodeError{Kind: KindMalformed, Err: errors.New("nil message")}
	}

	if err := validate(msg); err != nil {
		return nil, err
	}

	switch m := msg.(type) {
	case Offer:
		return json.Marshal(descriptionEnvelope{Type: MessageTypeOffer, SDP: m.SDP})
	case Answer:
		return json.Marshal(descriptionEnvelope{Type: MessageTypeAnswer, SDP: m.SDP})
	case ICECandidate:
		return json.Marshal(candidateEnvelope{
			Type:          MessageTypeICECandidate,
			Candidate:     m.Candidate,
			SDPMid:        m.SDPMid,
			SDPMLineIndex: m.SDPMLineIndex,
		})
	case EndOfCandidates:
		return json.Marshal(typeEnvelope{Type: MessageTypeEndOfCandidates})
	default:
		return nil, UnknownVariant(string(msg.Type()))
	}
}

func validate(msg Message) error {
	switch m := msg.(type) {
	case Offer:
		if m.SDP == "" {
			return invalidField(fieldSDP, errors.New("empty session description"))
		}
	case Answer:
		if m.SDP == "" {
			return invalidField(fieldSDP, errors.New("empty session description"))
		}
	case ICECandidate:
		if m.Candidate == "" {
			return invalidField(fieldCandidate, errors.New("empty candidate"))
		}
		if m.SDPMLineIndex < 0 || m.SDPMLineIndex > 0xffff {
			return invalidField(fieldSDPMLineIndex, errors.New("out of range"))
		}
	}
	return nil
}

func rawField(fields map[string]json.RawMessage, name string) (json.RawMessage, error) {
	raw, ok := fields[name]
	if !ok || string(raw) == "null" {
		return nil, MissingField(name)
	}
	return raw, nil
}

func stringField(fields map[string]json.RawMessage, name string, dst *string) error {
	raw, err := rawField(fields, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidField(name, err)
	}
	return nil
}

func intField(fields map[string]json.RawMessage, name string, dst *int) error {
	raw, err := rawField(fields, name)
	if err != nil {
		return err
	}

	if err := json.Unmarshal(raw, dst); err != nil {
		return invalidField(name, err)
	}
	return nil
}
