// Package signaling defines the messages exchanged over the signaling channel
// and the codec that turns them into JSON envelopes and back.
package signaling

import "github.com/pion/webrtc/v4"

type MessageType string

const (
	MessageTypeOffer           MessageType = "offer"
	MessageTypeAnswer          MessageType = "answer"
	MessageTypeICECandidate    MessageType = "new-ice-candidate"
	MessageTypeEndOfCandidates MessageType = "end-of-candidates"
)

func (t MessageType) String() string {
	return string(t)
}

// Message is one of Offer, Answer, ICECandidate or EndOfCandidates.
type Message interface {
	Type() MessageType
	isMessage()
}

var (
	_ Message = Offer{}
	_ Message = Answer{}
	_ Message = ICECandidate{}
	_ Message = EndOfCandidates{}
)

type Offer struct {
	SDP string
}

func (Offer) Type() MessageType { return MessageTypeOffer }
func (Offer) isMessage()        {}

type Answer struct {
	SDP string
}

func (Answer) Type() MessageType { return MessageTypeAnswer }
func (Answer) isMessage()        {}

type ICECandidate struct {
	Candidate     string
	SDPMid        string
	SDPMLineIndex int
}

func (ICECandidate) Type() MessageType { return MessageTypeICECandidate }
func (ICECandidate) isMessage()        {}

// EndOfCandidates tells the remote side that no further candidates follow in
// the current negotiation round.
type EndOfCandidates struct{}

func (EndOfCandidates) Type() MessageType { return MessageTypeEndOfCandidates }
func (EndOfCandidates) isMessage()        {}

// ToInit converts the candidate into the form pion expects in AddICECandidate.
func (c ICECandidate) ToInit() webrtc.ICECandidateInit {
	mid := c.SDPMid
	index := uint16(c.SDPMLineIndex)

	return webrtc.ICECandidateInit{
		Candidate:     c.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	}
}

// CandidateFromInit builds a wire candidate from a locally gathered one.
func CandidateFromInit(init webrtc.ICECandidateInit) ICECandidate {
	c := ICECandidate{Candidate: init.Candidate}

	if init.SDPMid != nil {
		c.SDPMid = *init.SDPMid
	}

	if init.SDPMLineIndex != nil {
		c.SDPMLineIndex = int(*init.SDPMLineIndex)
	}

	return c
}

// SessionDescription returns the pion description carried by an Offer or Answer.
func SessionDescription(msg Message) (webrtc.SessionDescription, bool) {
	switch m := msg.(type) {
	case Offer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: m.SDP}, true
	case Answer:
		return webrtc.SessionDescription{Type: webrtc.SDPTypeAnswer, SDP: m.SDP}, true
	default:
		return webrtc.SessionDescription{}, false
	}
}

// DescriptionMessage wraps an SDP blob into the message matching kind.
func DescriptionMessage(kind MessageType, sdp string) (Message, bool) {
	switch kind {
	case MessageTypeOffer:
		return Offer{SDP: sdp}, true
	case MessageTypeAnswer:
		return Answer{SDP: sdp}, true
	default:
		return nil, false
	}
}
